package utils

import "golang.org/x/crypto/bcrypt"

func HashPassword(s string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword reports whether normal matches the bcrypt hash.
func ComparePassword(hashed string, normal string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(normal)) == nil
}
