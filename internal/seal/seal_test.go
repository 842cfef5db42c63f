package seal

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestHashSecretVerify(t *testing.T) {
	encoded, err := HashSecret("hunter2")
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	if !strings.HasPrefix(encoded, "argon2id$") {
		t.Fatalf("unexpected hash shape: %s", encoded)
	}

	if err := VerifySecret("hunter2", encoded); err != nil {
		t.Fatalf("expected matching secret to verify: %v", err)
	}
	if err := VerifySecret("wrong", encoded); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	// Two hashes of the same secret must differ (fresh salt each time).
	other, err := HashSecret("hunter2")
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	if other == encoded {
		t.Fatal("expected salted hashes to differ")
	}
}

func TestVerifySecretMalformed(t *testing.T) {
	for _, encoded := range []string{"", "sha256$abc$def", "argon2id$only-two"} {
		if err := VerifySecret("x", encoded); !errors.Is(err, ErrHashMismatch) {
			t.Fatalf("encoded %q: expected mismatch, got %v", encoded, err)
		}
	}
}

func TestSealerRoundTrip(t *testing.T) {
	salt, err := GenerateSalt(SaltLength)
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	sealer, err := NewSealer("passphrase", salt)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	blob, err := sealer.Seal("hello world")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if blob == "hello world" {
		t.Fatal("expected ciphertext to differ from plaintext")
	}

	plain, err := sealer.Open(blob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if plain != "hello world" {
		t.Fatalf("round trip mismatch: %q", plain)
	}

	// Same passphrase and salt must reopen the blob.
	reopened, err := NewSealer("passphrase", salt)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	if plain, err := reopened.Open(blob); err != nil || plain != "hello world" {
		t.Fatalf("expected deterministic key derivation, got %q err %v", plain, err)
	}
}

func TestSealerRejectsTamperAndWrongKey(t *testing.T) {
	salt, _ := GenerateSalt(SaltLength)
	sealer, err := NewSealer("passphrase", salt)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	blob, err := sealer.Seal("payload")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(blob)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)
	if _, err := sealer.Open(tampered); !errors.Is(err, ErrInvalidBlob) {
		t.Fatalf("expected tampered blob rejection, got %v", err)
	}

	otherSalt, _ := GenerateSalt(SaltLength)
	wrongKey, err := NewSealer("passphrase", otherSalt)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	if _, err := wrongKey.Open(blob); !errors.Is(err, ErrInvalidBlob) {
		t.Fatalf("expected wrong-key rejection, got %v", err)
	}

	if _, err := sealer.Open("%%%not-base64%%%"); !errors.Is(err, ErrInvalidBlob) {
		t.Fatalf("expected decode failure, got %v", err)
	}
}
