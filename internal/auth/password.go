package auth

import "golang.org/x/crypto/bcrypt"

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// BcryptVerifier checks plaintext passwords against stored bcrypt hashes.
type BcryptVerifier struct{}

func (BcryptVerifier) Verify(plain, hash string) bool {
	return CheckPasswordHash(plain, hash)
}
