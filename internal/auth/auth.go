package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

const BcryptCost = 12

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// AdminCredentials is the single configured admin account. When Hash is set
// it wins over the plaintext Password.
type AdminCredentials struct {
	Username string
	Password string
	Hash     string
}

// Check verifies a login attempt. An account with neither a password nor a
// hash configured rejects every attempt.
func (c AdminCredentials) Check(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username)) == 1
	var passOK bool
	switch {
	case c.Hash != "":
		passOK = CheckPassword(password, c.Hash)
	case c.Password != "":
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(c.Password)) == 1
	}
	return userOK && passOK
}
