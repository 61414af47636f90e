// Package auth issues and verifies the bearer tokens that protect the
// control API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret. There are no user
// accounts: the subject names the client the token was issued to, and any
// valid token grants full access.
package auth
