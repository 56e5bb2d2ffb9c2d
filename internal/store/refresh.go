package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nocturnelabs/token-server/pkg/field"
	"github.com/nocturnelabs/token-server/pkg/token"
)

// RefreshTokenTTL is how long a refresh token stays redeemable.
const RefreshTokenTTL = 30 * 24 * time.Hour

var ErrNoRefreshToken = errors.New("refresh token has no value")

// RefreshTokenInfo is one row of the tokens table.
type RefreshTokenInfo struct {
	SubscriberID field.SubscriberId
	ClientID     field.ClientId
	Token        field.RefreshToken
	ExpiresAt    time.Time
}

// NewRefreshTokenInfo builds a row from a freshly issued token body.
// The body must carry a refresh token and exactly the issuing client
// id in allowed_apps.
func NewRefreshTokenInfo(body *token.TokenBody) (*RefreshTokenInfo, error) {
	if body.Refresh == nil {
		return nil, ErrNoRefreshToken
	}
	if len(body.AllowedApps) == 0 {
		return nil, errors.New("token body has no client id")
	}
	sub, err := field.NewSubscriberId(body.SubscriberID)
	if err != nil {
		return nil, err
	}
	cid, err := field.NewClientId(body.AllowedApps[0])
	if err != nil {
		return nil, err
	}
	return &RefreshTokenInfo{
		SubscriberID: sub,
		ClientID:     cid,
		Token:        *body.Refresh,
		ExpiresAt:    time.Now().Add(RefreshTokenTTL),
	}, nil
}

// RefreshTokenStore is the tokens table.
type RefreshTokenStore struct {
	db *sqlx.DB

	// now is swappable for pruning tests.
	now func() time.Time
}

func NewRefreshTokenStore(db *sqlx.DB) *RefreshTokenStore {
	return &RefreshTokenStore{db: db, now: time.Now}
}

// Add inserts the row.
func (s *RefreshTokenStore) Add(ctx context.Context, info *RefreshTokenInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (subscriber_id, client_id, refresh_token, expires) VALUES (?, ?, ?, ?)`,
		info.SubscriberID.String(), info.ClientID.String(), info.Token.String(), info.ExpiresAt.Unix())
	return err
}

// Find looks up a live row by (value, client_id); nil when absent or
// expired.
func (s *RefreshTokenStore) Find(ctx context.Context, value field.RefreshToken, clientID field.ClientId) (*RefreshTokenInfo, error) {
	var row struct {
		SubscriberID string `db:"subscriber_id"`
		ClientID     string `db:"client_id"`
		RefreshToken string `db:"refresh_token"`
		Expires      int64  `db:"expires"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM tokens WHERE refresh_token = ? AND client_id = ? AND expires > ?`,
		value.String(), clientID.String(), s.now().Unix())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	sub, err := field.NewSubscriberId(row.SubscriberID)
	if err != nil {
		return nil, err
	}
	cid, err := field.NewClientId(row.ClientID)
	if err != nil {
		return nil, err
	}
	tok, err := field.NewRefreshToken(row.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &RefreshTokenInfo{
		SubscriberID: sub,
		ClientID:     cid,
		Token:        tok,
		ExpiresAt:    time.Unix(row.Expires, 0),
	}, nil
}

// PruneExpired deletes exactly the rows whose expiry is at or before
// now.
func (s *RefreshTokenStore) PruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires <= ?`, s.now().Unix())
	return err
}

// AddAndPrune composes Add with PruneExpired so every successful mint
// also trims the table.
func (s *RefreshTokenStore) AddAndPrune(ctx context.Context, info *RefreshTokenInfo) error {
	if err := s.Add(ctx, info); err != nil {
		return err
	}
	return s.PruneExpired(ctx)
}

// PruneAndFind composes PruneExpired with Find for the refresh path.
func (s *RefreshTokenStore) PruneAndFind(ctx context.Context, value field.RefreshToken, clientID field.ClientId) (*RefreshTokenInfo, error) {
	if err := s.PruneExpired(ctx); err != nil {
		return nil, err
	}
	return s.Find(ctx, value, clientID)
}
