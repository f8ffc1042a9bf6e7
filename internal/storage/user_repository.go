package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shares-tracker/internal/models"
)

// UserRepository handles user data persistence
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `address, supply, twitter_username, twitter_pfp_url, profile_checked, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.Address,
		&user.Supply,
		&user.TwitterUsername,
		&user.TwitterPfpURL,
		&user.ProfileChecked,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func collectUsers(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// GetByAddress retrieves a user by address.
func (r *UserRepository) GetByAddress(ctx context.Context, address string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE address = $1
	`

	user, err := scanUser(r.db.Pool().QueryRow(ctx, query, strings.ToLower(address)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", address, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByAddresses retrieves users for the given addresses. Unknown
// addresses are simply absent from the result.
func (r *UserRepository) GetByAddresses(ctx context.Context, addresses []string) ([]*models.User, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	lowered := make([]string, len(addresses))
	for i, addr := range addresses {
		lowered[i] = strings.ToLower(addr)
	}

	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE address = ANY($1)
	`

	rows, err := r.db.Pool().Query(ctx, query, lowered)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return collectUsers(rows)
}

// ListSupplies returns every (address, supply) pair. The keeper loads
// this once at startup to seed its supply cache.
func (r *UserRepository) ListSupplies(ctx context.Context) ([]models.UserSupply, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT address, supply FROM users`)
	if err != nil {
		return nil, fmt.Errorf("failed to query supplies: %w", err)
	}
	defer rows.Close()

	var supplies []models.UserSupply
	for rows.Next() {
		var s models.UserSupply
		if err := rows.Scan(&s.Address, &s.Supply); err != nil {
			return nil, fmt.Errorf("failed to scan supply: %w", err)
		}
		supplies = append(supplies, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate supplies: %w", err)
	}
	return supplies, nil
}

// ListNewest returns the most recently created users.
func (r *UserRepository) ListNewest(ctx context.Context, limit int) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query newest users: %w", err)
	}
	return collectUsers(rows)
}

// ListTopBySupply returns users ordered by outstanding supply, highest
// first. Feeds the leaderboard.
func (r *UserRepository) ListTopBySupply(ctx context.Context, limit int) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY supply DESC, address ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top users: %w", err)
	}
	return collectUsers(rows)
}

// ListUnchecked returns users without a verified profile, largest
// supply first so prominent subjects get enriched before long-tail
// addresses.
func (r *UserRepository) ListUnchecked(ctx context.Context, limit int) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE profile_checked = FALSE
		ORDER BY supply DESC, address ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unchecked users: %w", err)
	}
	return collectUsers(rows)
}

// SetProfile records the outcome of a profile lookup. A nil username
// marks the user checked without attaching Twitter metadata.
func (r *UserRepository) SetProfile(ctx context.Context, address string, username, pfpURL *string) error {
	query := `
		UPDATE users
		SET twitter_username = $2,
		    twitter_pfp_url = $3,
		    profile_checked = TRUE,
		    updated_at = NOW()
		WHERE address = $1
	`

	tag, err := r.db.Pool().Exec(ctx, query, strings.ToLower(address), username, pfpURL)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", address, models.ErrNotFound)
	}
	return nil
}

// Search returns users whose address or Twitter username contains the
// given term, case-insensitively.
func (r *UserRepository) Search(ctx context.Context, term string, limit int) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE address ILIKE $1 OR twitter_username ILIKE $1
		ORDER BY supply DESC, address ASC
		LIMIT $2
	`

	pattern := "%" + strings.ToLower(term) + "%"
	rows, err := r.db.Pool().Query(ctx, query, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return collectUsers(rows)
}
