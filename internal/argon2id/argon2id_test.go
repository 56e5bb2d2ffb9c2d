package argon2id

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	encoded, err := Hash("password")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=4096,t=3,p=4$") {
		t.Fatalf("unexpected hash prefix: %s", encoded)
	}
	if len(encoded) != 117 {
		t.Fatalf("expected 117-char encoding, got %d", len(encoded))
	}

	ok, err := Verify("password", encoded)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !ok {
		t.Fatal("correct password did not verify")
	}

	ok, err = Verify("not-the-password", encoded)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if ok {
		t.Fatal("wrong password verified")
	}
}

func TestHashIsSalted(t *testing.T) {
	a, err := Hash("password")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	b, err := Hash("password")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same password collided; salt not applied")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "$argon2id$v=19$oops", "$bcrypt$x$y$z$w"} {
		if _, err := Verify("password", s); err == nil {
			t.Errorf("expected malformed error for %q", s)
		}
	}
}
