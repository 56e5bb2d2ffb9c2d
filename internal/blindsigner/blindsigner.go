// Package blindsigner owns the server's rotating blind-RSA key: a
// single key slot behind a read/write lock, swapped by a background
// rotation loop so anonymous tokens stay unlinkable over time.
package blindsigner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nocturnelabs/token-server/pkg/blindrsa"
)

// DefaultRotationPeriod is how often the RSA key pair is replaced.
const DefaultRotationPeriod = 24 * time.Hour

// Rotator holds the current blind-signing key and rotates it on a
// schedule. Key generation always happens outside the lock; the write
// lock is held only for the swap.
type Rotator struct {
	mu        sync.RWMutex
	key       *blindrsa.KeyPair
	rotatedAt atomic.Int64
	period    time.Duration
	bits      int
}

// New generates the initial key and records the rotation timestamp.
func New(bits int, period time.Duration) (*Rotator, error) {
	if period <= 0 {
		period = DefaultRotationPeriod
	}
	key, err := blindrsa.GenerateKey(bits)
	if err != nil {
		return nil, err
	}
	r := &Rotator{key: key, period: period, bits: bits}
	r.rotatedAt.Store(time.Now().Unix())
	log.Info().Str("kid", key.PublicKey().KeyID()).Dur("rotation_period", period).Msg("blind signing key ready")
	return r, nil
}

// BlindSign signs a blinded token with the current key.
func (r *Rotator) BlindSign(bt *blindrsa.BlindedToken) (*blindrsa.BlindSignature, error) {
	r.mu.RLock()
	key := r.key
	r.mu.RUnlock()
	return key.BlindSign(bt)
}

// PublicKey returns the current verification key.
func (r *Rotator) PublicKey() *blindrsa.PublicKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.key.PublicKey()
}

// ExpiresAt is when signatures minted now stop verifying against the
// published key set: rotated_at + rotation_period, in UNIX seconds.
func (r *Rotator) ExpiresAt() int64 {
	return r.rotatedAt.Load() + int64(r.period/time.Second)
}

// Run rotates the key every period until ctx is canceled. A keygen
// failure is logged and the loop continues with the prior key.
func (r *Rotator) Run(ctx context.Context) {
	timer := time.NewTimer(r.period)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("blind key rotation stopped")
			return
		case <-timer.C:
		}

		// keygen happens outside the lock; only the swap blocks signers
		fresh, err := blindrsa.GenerateKey(r.bits)
		if err != nil {
			log.Error().Err(err).Msg("blind key rotation failed, keeping prior key")
		} else {
			r.mu.Lock()
			r.key = fresh
			r.mu.Unlock()
			r.rotatedAt.Store(time.Now().Unix())
			log.Info().Str("kid", fresh.PublicKey().KeyID()).Msg("rotated blind signing key")
		}
		timer.Reset(r.period)
	}
}
