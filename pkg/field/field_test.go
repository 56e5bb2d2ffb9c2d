package field

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestGenerateRefreshToken(t *testing.T) {
	a, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(a.String()) != RefreshTokenLen {
		t.Fatalf("expected %d chars, got %d", RefreshTokenLen, len(a.String()))
	}
	for _, r := range a.String() {
		if !isAlphanumeric(r) {
			t.Fatalf("non-alphanumeric rune %q in refresh token", r)
		}
	}

	b, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if a.String() == b.String() {
		t.Fatal("two generated refresh tokens collided")
	}

	// round trip through the validating constructor
	if _, err := NewRefreshToken(a.String()); err != nil {
		t.Fatalf("generated token failed validation: %v", err)
	}
}

func TestNewRefreshTokenRejectsBadInput(t *testing.T) {
	if _, err := NewRefreshToken("short"); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField for short token, got %v", err)
	}
	bad := make([]byte, RefreshTokenLen)
	for i := range bad {
		bad[i] = '!'
	}
	if _, err := NewRefreshToken(string(bad)); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField for non-alphanumeric token, got %v", err)
	}
}

func TestIssuerValidation(t *testing.T) {
	valid := []string{
		"http://localhost:3000/v1.0",
		"https://auth.example.com/v1.0",
	}
	for _, s := range valid {
		if _, err := NewIssuer(s); err != nil {
			t.Errorf("expected %q to be a valid issuer: %v", s, err)
		}
	}
	invalid := []string{
		"",
		"not a url",
		"ftp://example.com",
		"mailto:user@example.com",
	}
	for _, s := range invalid {
		if _, err := NewIssuer(s); !errors.Is(err, ErrInvalidField) {
			t.Errorf("expected %q to be rejected, got %v", s, err)
		}
	}
}

func TestIdTokenShape(t *testing.T) {
	if _, err := NewIdToken("aaa.bbb.ccc"); err != nil {
		t.Fatalf("three-segment token rejected: %v", err)
	}
	for _, s := range []string{"", "aaa.bbb", "aaa..ccc", "a.b.c.d"} {
		if _, err := NewIdToken(s); !errors.Is(err, ErrInvalidField) {
			t.Errorf("expected %q to be rejected, got %v", s, err)
		}
	}
}

func TestAudiencesParseAndSerialize(t *testing.T) {
	aud, err := NewAudiences("client_id1,client_id2")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if aud.Len() != 2 {
		t.Fatalf("expected 2 audiences, got %d", aud.Len())
	}
	cid, _ := NewClientId("client_id1")
	if !aud.Contains(cid) {
		t.Fatal("expected audiences to contain client_id1")
	}

	raw, err := json.Marshal(aud)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(raw) != `["client_id1","client_id2"]` {
		t.Fatalf("unexpected serialization: %s", raw)
	}

	// array form
	var fromArray Audiences
	if err := json.Unmarshal([]byte(`["a","b"]`), &fromArray); err != nil {
		t.Fatalf("array unmarshal failed: %v", err)
	}
	if fromArray.Len() != 2 {
		t.Fatalf("expected 2 elements, got %d", fromArray.Len())
	}

	// single-string form (ID Token compatibility)
	var fromString Audiences
	if err := json.Unmarshal([]byte(`"solo"`), &fromString); err != nil {
		t.Fatalf("string unmarshal failed: %v", err)
	}
	solo, _ := NewClientId("solo")
	if !fromString.Contains(solo) {
		t.Fatal("expected single-string audience to be contained")
	}
}

func TestAudiencesRejectsEmptyElement(t *testing.T) {
	if _, err := NewAudiences("a,,b"); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField for empty element, got %v", err)
	}
}

func TestFieldJSONEqualsRawValue(t *testing.T) {
	u, _ := NewUsername("alice")
	raw, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(raw) != `"alice"` {
		t.Fatalf("unexpected serialization: %s", raw)
	}

	var back Username
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back != u {
		t.Fatal("round trip changed the value")
	}

	var empty Username
	if err := json.Unmarshal([]byte(`""`), &empty); err == nil {
		t.Fatal("expected empty username to be rejected on unmarshal")
	}
}
