package session

import "golang.org/x/crypto/bcrypt"

// PasswordVerifier checks a password against the identity authority's stored hash.
type PasswordVerifier interface {
	Verify(hash, password string) bool
}

// BcryptVerifier verifies bcrypt hashes ($2a$, $2b$, $2y$).
type BcryptVerifier struct{}

func (BcryptVerifier) Verify(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
