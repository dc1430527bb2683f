package auth

import "testing"

func TestHashPassword(t *testing.T) {
	password := "correct horse battery staple"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == password {
		t.Error("hash must not equal the plaintext")
	}

	if err := VerifyPassword(password, hash); err != nil {
		t.Errorf("VerifyPassword() error = %v, want nil", err)
	}

	if err := VerifyPassword("wrong password", hash); err == nil {
		t.Error("VerifyPassword() accepted a wrong password")
	}

	// bcrypt salts, so two hashes of the same input differ.
	hash2, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == hash2 {
		t.Error("expected distinct salted hashes")
	}
}
