package security

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := "access-token-abc123"

	cipher, err := EncryptString(secret)
	if err != nil {
		t.Fatalf("unexpected error encrypting: %v", err)
	}

	if cipher == secret {
		t.Fatal("ciphertext must not equal plaintext")
	}

	plain, err := DecryptString(cipher)
	if err != nil {
		t.Fatalf("unexpected error decrypting: %v", err)
	}

	if plain != secret {
		t.Fatalf("round trip mismatch. got=%q want=%q", plain, secret)
	}
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	a, err := EncryptString("same-secret")
	if err != nil {
		t.Fatalf("unexpected error encrypting: %v", err)
	}
	b, err := EncryptString("same-secret")
	if err != nil {
		t.Fatalf("unexpected error encrypting: %v", err)
	}

	if a == b {
		t.Fatal("two encryptions of the same value must differ")
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	if _, err := DecryptString("bm90LWEtdmFsaWQtYm94"); err == nil {
		t.Fatal("expected error for tampered ciphertext")
	}

	if _, err := DecryptString("%%%not-base64%%%"); err == nil {
		t.Fatal("expected error for invalid encoding")
	}
}
