// Package identity is Courier's user registry: phone-number principals with
// Argon2id password credentials. It backs the register/login endpoints and
// nothing else; session state lives entirely in the access token.
package identity
