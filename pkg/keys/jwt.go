package keys

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/nocturnelabs/token-server/pkg/field"
	"github.com/nocturnelabs/token-server/pkg/token"
)

const (
	// TokenDuration is how long an issued id token stays valid.
	TokenDuration = 30 * time.Minute
	// NotBeforeSkew is subtracted from iat for the nbf claim.
	NotBeforeSkew = 10 * time.Minute
	// DefaultLeeway is the symmetric leeway applied to nbf/exp checks.
	DefaultLeeway = 30 * time.Second
)

// Claims is the fixed claim set of an id token: the registered claims
// plus the custom iad admin flag.
type Claims struct {
	IsAdmin bool `json:"iad"`
	jwt.RegisteredClaims
}

// Reason classifies a validation failure.
type Reason string

const (
	ReasonMalformed       Reason = "malformed"
	ReasonSignature       Reason = "signature"
	ReasonExpired         Reason = "expired"
	ReasonNotYetValid     Reason = "not_yet_valid"
	ReasonUnknownIssuer   Reason = "unknown_issuer"
	ReasonUnknownAudience Reason = "unknown_audience"
)

// ValidationError reports why a token was rejected.
type ValidationError struct {
	Reason Reason
	err    error
}

func (e *ValidationError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("validation failed (%s): %v", e.Reason, e.err)
	}
	return fmt.Sprintf("validation failed (%s)", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.err }

// ValidationOptions controls Validate. The zero value uses wall-clock
// time, the default leeway and no issuer/audience restrictions.
type ValidationOptions struct {
	// Leeway applied symmetrically to nbf and exp. Zero means
	// DefaultLeeway; a negative value disables leeway.
	Leeway time.Duration
	// Now supplies the validation time; nil means time.Now.
	Now func() time.Time
	// AllowedIssuers, when non-nil, is the set the iss claim must be in.
	AllowedIssuers map[field.Issuer]struct{}
	// AllowedAudiences, when non-nil, must intersect the aud claim.
	AllowedAudiences *field.Audiences
}

func (o *ValidationOptions) leeway() time.Duration {
	switch {
	case o.Leeway < 0:
		return 0
	case o.Leeway == 0:
		return DefaultLeeway
	default:
		return o.Leeway
	}
}

// Authorize mints an id token for the subscriber: standard claims plus
// iad, header kid set to the key id, aud set to exactly the client id.
// The returned TokenBody is decoded back from the signed payload; when
// refreshRequired it carries a fresh refresh token.
func (k *SigningKey) Authorize(
	sub field.SubscriberId,
	clientID field.ClientId,
	issuer field.Issuer,
	isAdmin bool,
	refreshRequired bool,
) (*token.TokenBody, error) {
	now := time.Now()
	claims := Claims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer.String(),
			Subject:   sub.String(),
			Audience:  jwt.ClaimStrings{clientID.String()},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenDuration)),
			NotBefore: jwt.NewNumericDate(now.Add(-NotBeforeSkew)),
		},
	}

	var method jwt.SigningMethod = jwt.SigningMethodES256
	if k.alg == EdDSA {
		method = jwt.SigningMethodEdDSA
	}
	tok := jwt.NewWithClaims(method, claims)
	tok.Header["kid"] = k.ValidationKey().KeyID()

	signed, err := tok.SignedString(k.cryptoKey())
	if err != nil {
		return nil, err
	}
	id, err := field.NewIdToken(signed)
	if err != nil {
		return nil, err
	}
	log.Info().Str("sub", sub.String()).Str("aud", clientID.String()).Msg("issued id token")

	return token.New(id, refreshRequired)
}

// Validate verifies the token with the signing key's validation key.
func (k *SigningKey) Validate(id field.IdToken, opts *ValidationOptions) (*Claims, error) {
	return k.ValidationKey().Validate(id, opts)
}

// Validate parses the three segments, verifies the signature with the
// algorithm pinned to this key's variant, then checks nbf/exp with
// leeway and the issuer/audience sets. A token whose header alg does
// not match the stored key is refused before any time check.
func (k *ValidationKey) Validate(id field.IdToken, opts *ValidationOptions) (*Claims, error) {
	if opts == nil {
		opts = &ValidationOptions{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{string(k.alg)}),
		jwt.WithLeeway(opts.leeway()),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(id.String(), claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodECDSA:
			if k.alg != ES256 {
				return nil, fmt.Errorf("%w: token alg %v does not match stored key", ErrUnsupportedKey, t.Header["alg"])
			}
		case *jwt.SigningMethodEd25519:
			if k.alg != EdDSA {
				return nil, fmt.Errorf("%w: token alg %v does not match stored key", ErrUnsupportedKey, t.Header["alg"])
			}
		default:
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrUnsupportedKey, t.Header["alg"])
		}
		return k.cryptoKey(), nil
	})
	if err != nil {
		log.Debug().Err(err).Msg("id token rejected")
		return nil, classifyJWTError(err)
	}

	if opts.AllowedIssuers != nil {
		iss, err := field.NewIssuer(claims.Issuer)
		if err != nil {
			return nil, &ValidationError{Reason: ReasonUnknownIssuer, err: err}
		}
		if _, ok := opts.AllowedIssuers[iss]; !ok {
			return nil, &ValidationError{Reason: ReasonUnknownIssuer}
		}
	}

	if opts.AllowedAudiences != nil {
		matched := false
		for _, aud := range claims.Audience {
			cid, err := field.NewClientId(aud)
			if err != nil {
				continue
			}
			if opts.AllowedAudiences.Contains(cid) {
				matched = true
				break
			}
		}
		if !matched {
			return nil, &ValidationError{Reason: ReasonUnknownAudience}
		}
	}

	return claims, nil
}

func classifyJWTError(err error) *ValidationError {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &ValidationError{Reason: ReasonMalformed, err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return &ValidationError{Reason: ReasonExpired, err: err}
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return &ValidationError{Reason: ReasonNotYetValid, err: err}
	default:
		return &ValidationError{Reason: ReasonSignature, err: err}
	}
}
