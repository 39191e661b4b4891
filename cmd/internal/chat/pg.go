package chat

import (
	"regexp"

	"github.com/jackc/pgx/v5"
)

const defaultSchema = "courier"

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

func pgSchemaIdent(schema string) string {
	return pgx.Identifier{schema}.Sanitize()
}
