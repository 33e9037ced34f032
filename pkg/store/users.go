package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/computor-org/computor/pkg/api"
)

const userColumns = `id, version, created_at, updated_at, created_by, updated_by, properties,
	given_name, family_name, email, username, user_type, token_expiration, archived`

// CreateUser inserts a new user. An empty UserType defaults to "user".
func (s *Store) CreateUser(ctx context.Context, user *api.User) error {
	if user.UserType == "" {
		user.UserType = api.UserTypeUser
	}
	user.ID = newID()
	user.Version = 1
	user.CreatedAt = s.now()
	user.UpdatedAt = user.CreatedAt
	_, err := s.db.ExecContext(ctx, `INSERT INTO "user"
		(id, version, created_at, updated_at, created_by, updated_by, properties,
		 given_name, family_name, email, username, user_type, token_expiration, archived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		user.ID, user.Version, user.CreatedAt, user.UpdatedAt, user.CreatedBy, user.UpdatedBy, user.Properties,
		user.GivenName, user.FamilyName, user.Email, user.Username, user.UserType, user.TokenExpiration, user.Archived)
	return wrapWriteErr(err, "user")
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*api.User, error) {
	user := &api.User{}
	err := s.db.GetContext(ctx, user, `SELECT `+userColumns+` FROM "user" WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "user", id)
	}
	return user, nil
}

// GetUserByUsername loads a user by its unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*api.User, error) {
	user := &api.User{}
	err := s.db.GetContext(ctx, user, `SELECT `+userColumns+` FROM "user" WHERE username = $1`, username)
	if err != nil {
		return nil, getErr(err, "user", username)
	}
	return user, nil
}

// GetUserByEmail loads a user by its unique email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*api.User, error) {
	user := &api.User{}
	err := s.db.GetContext(ctx, user, `SELECT `+userColumns+` FROM "user" WHERE email = $1`, email)
	if err != nil {
		return nil, getErr(err, "user", email)
	}
	return user, nil
}

// UpdateUser writes the mutable fields, guarded by the version the caller
// read.
func (s *Store) UpdateUser(ctx context.Context, user *api.User) error {
	user.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `UPDATE "user" SET
		version = version + 1, updated_at = $2, updated_by = $3, properties = $4,
		given_name = $5, family_name = $6, email = $7, username = $8, archived = $9
		WHERE id = $1 AND version = $10`,
		user.ID, user.UpdatedAt, user.UpdatedBy, user.Properties,
		user.GivenName, user.FamilyName, user.Email, user.Username, user.Archived, user.Version)
	if err != nil {
		return wrapWriteErr(err, "user")
	}
	return s.checkVersioned(ctx, res, `"user"`, user.ID)
}

// checkVersioned distinguishes "gone" from "stale version" after a guarded
// update affected no rows.
func (s *Store) checkVersioned(ctx context.Context, res sql.Result, table, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("failed to check existence of %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", id, ErrVersionConflict)
}

// EnsureAccount finds the account by (provider, provider_account_id) or
// creates it. Idempotent: the natural key wins over a concurrent insert.
func (s *Store) EnsureAccount(ctx context.Context, account *api.Account) (*api.Account, error) {
	existing := &api.Account{}
	err := s.db.GetContext(ctx, existing, `SELECT id, version, created_at, updated_at, created_by, updated_by, properties,
		user_id, provider, type, provider_account_id
		FROM account WHERE provider = $1 AND provider_account_id = $2`,
		account.Provider, account.ProviderAccountID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	account.ID = newID()
	account.Version = 1
	account.CreatedAt = s.now()
	account.UpdatedAt = account.CreatedAt
	_, err = s.db.ExecContext(ctx, `INSERT INTO account
		(id, version, created_at, updated_at, created_by, updated_by, properties, user_id, provider, type, provider_account_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		account.ID, account.Version, account.CreatedAt, account.UpdatedAt, account.CreatedBy, account.UpdatedBy,
		account.Properties, account.UserID, account.Provider, account.Type, account.ProviderAccountID)
	if err != nil {
		return nil, wrapWriteErr(err, "account")
	}
	return account, nil
}

// GetAccount resolves a provider identity to the owning account.
func (s *Store) GetAccount(ctx context.Context, provider, providerAccountID string) (*api.Account, error) {
	account := &api.Account{}
	err := s.db.GetContext(ctx, account, `SELECT id, version, created_at, updated_at, created_by, updated_by, properties,
		user_id, provider, type, provider_account_id
		FROM account WHERE provider = $1 AND provider_account_id = $2`, provider, providerAccountID)
	if err != nil {
		return nil, getErr(err, "account", provider+"/"+providerAccountID)
	}
	return account, nil
}

// EnsureRole inserts the role if it does not exist yet.
func (s *Store) EnsureRole(ctx context.Context, role *api.Role) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO role (id, title, builtin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4) ON CONFLICT (id) DO NOTHING`,
		role.ID, role.Title, role.Builtin, s.now())
	return wrapWriteErr(err, "role")
}

// AddRoleClaim attaches a claim to a role; duplicates are ignored.
func (s *Store) AddRoleClaim(ctx context.Context, claim api.RoleClaim) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO role_claim (role_id, claim_type, claim_value)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		claim.RoleID, claim.ClaimType, claim.ClaimValue)
	return wrapWriteErr(err, "role claim")
}

// AssignUserRole grants a global role to a user; duplicates are ignored.
func (s *Store) AssignUserRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_role (user_id, role_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	return wrapWriteErr(err, "user role")
}

// RolesForUser returns the user's global roles.
func (s *Store) RolesForUser(ctx context.Context, userID string) ([]api.Role, error) {
	var roles []api.Role
	err := s.db.SelectContext(ctx, &roles, `SELECT r.id, r.version, r.created_at, r.updated_at, r.created_by, r.updated_by, r.properties, r.title, r.builtin
		FROM role r JOIN user_role ur ON ur.role_id = r.id
		WHERE ur.user_id = $1 ORDER BY r.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles for user %s: %w", userID, err)
	}
	return roles, nil
}

// ClaimsForUser joins UserRole → Role → RoleClaim for principal
// construction.
func (s *Store) ClaimsForUser(ctx context.Context, userID string) ([]api.RoleClaim, error) {
	var claims []api.RoleClaim
	err := s.db.SelectContext(ctx, &claims, `SELECT rc.role_id, rc.claim_type, rc.claim_value
		FROM role_claim rc JOIN user_role ur ON ur.role_id = rc.role_id
		WHERE ur.user_id = $1 ORDER BY rc.role_id, rc.claim_type, rc.claim_value`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role claims for user %s: %w", userID, err)
	}
	return claims, nil
}
