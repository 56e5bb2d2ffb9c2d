package store

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/nocturnelabs/token-server/pkg/field"
)

// AdminPasswordEnv supplies the admin password at first bootstrap.
// Once the admin row exists the variable is never applied again.
const AdminPasswordEnv = "ADMIN_PASSWORD"

// Bootstrap ensures the reserved admin user exists. On an empty
// database the admin is created with ADMIN_PASSWORD when set,
// otherwise with a random password logged once.
func Bootstrap(ctx context.Context, users *UserStore) error {
	adminName, err := field.NewUsername(AdminUsername)
	if err != nil {
		return err
	}
	existing, err := users.FindByUsername(ctx, adminName)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	log.Warn().Msg(`no admin user in DB; creating "admin". The admin password is taken from ADMIN_PASSWORD when set and randomly generated otherwise. It is never overridden by the environment once the admin row exists.`)

	var password *field.Password
	if env := os.Getenv(AdminPasswordEnv); env != "" {
		p, err := field.NewPassword(env)
		if err != nil {
			return err
		}
		password = &p
	}

	admin, err := NewUser(adminName, password)
	if err != nil {
		return err
	}
	return users.Add(ctx, admin)
}
