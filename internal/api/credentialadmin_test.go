package api

import "testing"

func TestHashTokenRoundTrip(t *testing.T) {
	hash, err := HashToken("super-secret-token")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	if !VerifyToken(hash, "super-secret-token") {
		t.Fatal("VerifyToken rejected the token it was hashed from")
	}
	if VerifyToken(hash, "wrong-token") {
		t.Fatal("VerifyToken accepted a token it was not hashed from")
	}
}
