package blindsigner

import (
	"context"
	"testing"
	"time"

	"github.com/nocturnelabs/token-server/pkg/blindrsa"
)

func TestRotatorSignsWithCurrentKey(t *testing.T) {
	r, err := New(2048, time.Hour)
	if err != nil {
		t.Fatalf("new rotator: %v", err)
	}

	pk := r.PublicKey()
	msg := make([]byte, 32)
	res, err := pk.Blind(msg, blindrsa.DefaultOptions())
	if err != nil {
		t.Fatalf("blind: %v", err)
	}
	sig, err := r.BlindSign(&res.BlindedToken)
	if err != nil {
		t.Fatalf("blind sign: %v", err)
	}
	if sig.KeyID != pk.KeyID() {
		t.Errorf("signature kid %q != current key kid %q", sig.KeyID, pk.KeyID())
	}

	tok, err := pk.Finalize(sig, res, msg)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := pk.Verify(tok); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestExpiresAt(t *testing.T) {
	period := 2 * time.Hour
	r, err := New(2048, period)
	if err != nil {
		t.Fatalf("new rotator: %v", err)
	}
	want := r.rotatedAt.Load() + int64(period/time.Second)
	if got := r.ExpiresAt(); got != want {
		t.Errorf("ExpiresAt = %d, want %d", got, want)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r, err := New(2048, time.Hour)
	if err != nil {
		t.Fatalf("new rotator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("rotation loop did not stop on cancel")
	}
}
