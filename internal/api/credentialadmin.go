package api

import "golang.org/x/crypto/bcrypt"

// HashToken and VerifyToken back the (out-of-scope) credential
// administration surface: issuing a new Credential is not part of this
// gateway's push/dispatch path, but whatever process does issue one
// should never persist the raw secret it hands back to the caller.
// Mirrors the teacher's bcrypt.GenerateFromPassword usage in
// internal/auth/auth.go, the one place the teacher hashes a caller
// secret rather than comparing it directly.
func HashToken(raw string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func VerifyToken(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
