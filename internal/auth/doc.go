// Package auth issues and verifies the bearer tokens that guard the cell
// API.
//
// There are no user accounts on a cell controller. Tokens are minted
// offline with `cellcore token` against the configured JWT secret and carry
// a subject and a role. Roles map statically to permissions.
package auth
