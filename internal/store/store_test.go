package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nocturnelabs/token-server/internal/argon2id"
	"github.com/nocturnelabs/token-server/internal/db"
	"github.com/nocturnelabs/token-server/pkg/field"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	pool, err := db.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func mustUsername(t *testing.T, s string) field.Username {
	t.Helper()
	u, err := field.NewUsername(s)
	if err != nil {
		t.Fatalf("username %q: %v", s, err)
	}
	return u
}

func TestBootstrapCreatesAdmin(t *testing.T) {
	t.Setenv(AdminPasswordEnv, "s3cret")
	users := NewUserStore(openTestDB(t))
	ctx := context.Background()

	if err := Bootstrap(ctx, users); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	admin, err := users.FindByUsername(ctx, mustUsername(t, "admin"))
	if err != nil {
		t.Fatalf("find admin: %v", err)
	}
	if admin == nil {
		t.Fatal("admin user missing after bootstrap")
	}
	if !admin.IsAdmin {
		t.Error("admin user is not flagged is_admin")
	}
	ok, err := argon2id.Verify("s3cret", admin.EncodedHash.String())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Error("ADMIN_PASSWORD does not verify against the stored hash")
	}

	// a second bootstrap must not touch the existing admin
	t.Setenv(AdminPasswordEnv, "different")
	if err := Bootstrap(ctx, users); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	again, _ := users.FindByUsername(ctx, mustUsername(t, "admin"))
	if again.EncodedHash != admin.EncodedHash {
		t.Error("bootstrap overrode the existing admin password")
	}
}

func TestUserCRUD(t *testing.T) {
	users := NewUserStore(openTestDB(t))
	ctx := context.Background()

	pw, _ := field.NewPassword("hunter2hunter2")
	u, err := NewUser(mustUsername(t, "alice"), &pw)
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	if u.IsAdmin {
		t.Error("non-admin username flagged as admin")
	}
	if err := users.Add(ctx, u); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := users.Add(ctx, u); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate add: %v", err)
	}

	found, err := users.FindBySubscriberID(ctx, u.SubscriberID)
	if err != nil {
		t.Fatalf("find by sub: %v", err)
	}
	if found == nil || found.Username != u.Username {
		t.Fatalf("lookup by subscriber id failed: %+v", found)
	}

	ok, err := found.VerifyPassword(pw)
	if err != nil || !ok {
		t.Fatalf("password does not verify: ok=%v err=%v", ok, err)
	}

	newName := mustUsername(t, "alice2")
	if err := users.Update(ctx, u.SubscriberID, &newName, nil); err != nil {
		t.Fatalf("update username: %v", err)
	}
	newPw, _ := field.NewPassword("changed-password")
	if err := users.Update(ctx, u.SubscriberID, nil, &newPw); err != nil {
		t.Fatalf("update password: %v", err)
	}
	updated, _ := users.FindBySubscriberID(ctx, u.SubscriberID)
	if updated.Username != newName {
		t.Error("username not updated")
	}
	if ok, _ := updated.VerifyPassword(newPw); !ok {
		t.Error("new password does not verify")
	}
	if ok, _ := updated.VerifyPassword(pw); ok {
		t.Error("old password still verifies")
	}

	if err := users.Update(ctx, u.SubscriberID, nil, nil); !errors.Is(err, ErrNothingToDo) {
		t.Fatalf("empty update: %v", err)
	}

	if err := users.Delete(ctx, newName); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := users.Delete(ctx, newName); !errors.Is(err, ErrNoSuchUser) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestListUsersPagination(t *testing.T) {
	users := NewUserStore(openTestDB(t))
	ctx := context.Background()

	pw, _ := field.NewPassword("password")
	for _, name := range []string{"a", "b", "c"} {
		u, err := NewUser(mustUsername(t, name), &pw)
		if err != nil {
			t.Fatalf("new user: %v", err)
		}
		if err := users.Add(ctx, u); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	list, totalPages, totalUsers, err := users.List(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if totalUsers != 3 || totalPages != 1 || len(list) != 3 {
		t.Fatalf("list = %d users, %d pages, %d rows", totalUsers, totalPages, len(list))
	}

	if _, _, _, err := users.List(ctx, 0); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("page 0: %v", err)
	}
	if _, _, _, err := users.List(ctx, 2); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("page beyond total: %v", err)
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	tokens := NewRefreshTokenStore(openTestDB(t))
	ctx := context.Background()

	sub, _ := field.NewSubscriberId("sub-1")
	cid, _ := field.NewClientId("c1")
	value, err := field.GenerateRefreshToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	info := &RefreshTokenInfo{
		SubscriberID: sub,
		ClientID:     cid,
		Token:        value,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := tokens.AddAndPrune(ctx, info); err != nil {
		t.Fatalf("add: %v", err)
	}

	found, err := tokens.Find(ctx, value, cid)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.SubscriberID != sub {
		t.Fatalf("lookup failed: %+v", found)
	}

	// lookup keyed by (value, client_id): wrong client misses
	otherCid, _ := field.NewClientId("c2")
	miss, err := tokens.Find(ctx, value, otherCid)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if miss != nil {
		t.Fatal("refresh token found under the wrong client id")
	}
}

// prune_expired removes exactly the rows with expires <= now.
func TestPruneExpiredExactness(t *testing.T) {
	tokens := NewRefreshTokenStore(openTestDB(t))
	ctx := context.Background()

	now := time.Now()
	tokens.now = func() time.Time { return now }

	sub, _ := field.NewSubscriberId("sub-1")
	cid, _ := field.NewClientId("c1")

	mk := func(expires time.Time) field.RefreshToken {
		t.Helper()
		value, err := field.GenerateRefreshToken()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		err = tokens.Add(ctx, &RefreshTokenInfo{SubscriberID: sub, ClientID: cid, Token: value, ExpiresAt: expires})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		return value
	}

	expired := mk(now.Add(-time.Second))
	boundary := mk(now) // expires == now is pruned
	live := mk(now.Add(time.Second))

	if err := tokens.PruneExpired(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if got, _ := tokens.Find(ctx, expired, cid); got != nil {
		t.Error("expired row survived pruning")
	}
	if got, _ := tokens.Find(ctx, boundary, cid); got != nil {
		t.Error("boundary row survived pruning")
	}
	if got, _ := tokens.Find(ctx, live, cid); got == nil {
		t.Error("live row was pruned")
	}
}
