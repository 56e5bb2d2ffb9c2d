// Package store implements the CRUD contracts over the SQLite tables:
// users keyed by username/subscriber id, refresh tokens keyed by
// (value, client_id) with TTL-based pruning.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/nocturnelabs/token-server/internal/argon2id"
	"github.com/nocturnelabs/token-server/pkg/field"
)

const (
	// AdminUsername is the reserved bootstrap account.
	AdminUsername = "admin"
	// RandomPasswordLen is used when a user is created without a password.
	RandomPasswordLen = 32
	// UsersPerPage is the fixed page size of ListUsers.
	UsersPerPage = 20
)

var (
	ErrUserExists  = errors.New("user already exists")
	ErrNoSuchUser  = errors.New("no such user")
	ErrInvalidPage = errors.New("invalid page")
	ErrNothingToDo = errors.New("no fields to update")
)

// User is a stored account.
type User struct {
	Username     field.Username
	SubscriberID field.SubscriberId
	EncodedHash  field.EncodedHash
	IsAdmin      bool
}

// NewUser builds a user with a fresh UUID-v4 subscriber id. When
// password is nil a random 32-character one is generated and logged
// once. is_admin is true iff the username is the reserved admin name.
func NewUser(username field.Username, password *field.Password) (*User, error) {
	pw := password
	if pw == nil {
		random, err := field.GenerateRandomPassword(RandomPasswordLen)
		if err != nil {
			return nil, err
		}
		log.Warn().
			Str("username", username.String()).
			Str("password", random.String()).
			Msg("password was generated for the user; keep it securely, it is shown only once")
		pw = &random
	}

	encoded, err := argon2id.Hash(pw.String())
	if err != nil {
		return nil, err
	}
	hash, err := field.NewEncodedHash(encoded)
	if err != nil {
		return nil, err
	}
	sub, err := field.NewSubscriberId(uuid.New().String())
	if err != nil {
		return nil, err
	}

	return &User{
		Username:     username,
		SubscriberID: sub,
		EncodedHash:  hash,
		IsAdmin:      username.String() == AdminUsername,
	}, nil
}

// VerifyPassword checks a candidate password against the stored hash.
func (u *User) VerifyPassword(password field.Password) (bool, error) {
	return argon2id.Verify(password.String(), u.EncodedHash.String())
}

type userRow struct {
	Username     string `db:"username"`
	SubscriberID string `db:"subscriber_id"`
	EncodedHash  string `db:"encoded_hash"`
	IsAdmin      bool   `db:"is_admin"`
}

func (r userRow) toUser() (*User, error) {
	username, err := field.NewUsername(r.Username)
	if err != nil {
		return nil, err
	}
	sub, err := field.NewSubscriberId(r.SubscriberID)
	if err != nil {
		return nil, err
	}
	hash, err := field.NewEncodedHash(r.EncodedHash)
	if err != nil {
		return nil, err
	}
	return &User{Username: username, SubscriberID: sub, EncodedHash: hash, IsAdmin: r.IsAdmin}, nil
}

// UserStore is the users table.
type UserStore struct {
	db *sqlx.DB
}

func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

// Add inserts a new user; duplicate usernames surface as ErrUserExists.
func (s *UserStore) Add(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, subscriber_id, encoded_hash, is_admin) VALUES (?, ?, ?, ?)`,
		u.Username.String(), u.SubscriberID.String(), u.EncodedHash.String(), u.IsAdmin)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return err
	}
	return nil
}

// FindByUsername returns the user or nil when absent.
func (s *UserStore) FindByUsername(ctx context.Context, username field.Username) (*User, error) {
	return s.findOne(ctx, `SELECT * FROM users WHERE username = ?`, username.String())
}

// FindBySubscriberID returns the user or nil when absent.
func (s *UserStore) FindBySubscriberID(ctx context.Context, sub field.SubscriberId) (*User, error) {
	return s.findOne(ctx, `SELECT * FROM users WHERE subscriber_id = ?`, sub.String())
}

func (s *UserStore) findOne(ctx context.Context, query string, arg any) (*User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toUser()
}

// Delete removes the user by username.
func (s *UserStore) Delete(ctx context.Context, username field.Username) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoSuchUser
	}
	return nil
}

// Update changes the username and/or password of the user identified
// by subscriber id. At least one of the two must be provided; a new
// password is re-hashed before storage.
func (s *UserStore) Update(ctx context.Context, sub field.SubscriberId, newUsername *field.Username, newPassword *field.Password) error {
	if newUsername == nil && newPassword == nil {
		return ErrNothingToDo
	}

	set := ""
	args := []any{}
	if newUsername != nil {
		set = "username = ?"
		args = append(args, newUsername.String())
	}
	if newPassword != nil {
		encoded, err := argon2id.Hash(newPassword.String())
		if err != nil {
			return err
		}
		if set != "" {
			set += ", "
		}
		set += "encoded_hash = ?"
		args = append(args, encoded)
	}
	args = append(args, sub.String())

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE users SET %s WHERE subscriber_id = ?`, set), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoSuchUser
	}
	return nil
}

// List returns the requested 1-indexed page of users plus the page and
// user totals. Pages out of range are rejected.
func (s *UserStore) List(ctx context.Context, page int) (users []*User, totalPages, totalUsers int, err error) {
	if page <= 0 {
		return nil, 0, 0, ErrInvalidPage
	}

	if err := s.db.GetContext(ctx, &totalUsers, `SELECT COUNT(*) FROM users`); err != nil {
		return nil, 0, 0, err
	}
	totalPages = (totalUsers + UsersPerPage - 1) / UsersPerPage
	if totalPages == 0 {
		totalPages = 1
	}
	if page > totalPages {
		return nil, 0, 0, ErrInvalidPage
	}

	var rows []userRow
	err = s.db.SelectContext(ctx, &rows,
		`SELECT * FROM users ORDER BY username LIMIT ? OFFSET ?`,
		UsersPerPage, (page-1)*UsersPerPage)
	if err != nil {
		return nil, 0, 0, err
	}
	users = make([]*User, 0, len(rows))
	for _, row := range rows {
		u, err := row.toUser()
		if err != nil {
			return nil, 0, 0, err
		}
		users = append(users, u)
	}
	return users, totalPages, totalUsers, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations in the message;
	// it has no typed error for them.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
