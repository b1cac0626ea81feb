package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/paperrnint/advent-calendar-be/core"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// PostgresRepository expects the schema from RunMigrations
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const pgIdentityColumns = `id, provider, provider_id, email, display_name, avatar_url, color, share_id, state, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPgIdentity(row rowScanner) (*core.Identity, error) {
	var (
		identity        core.Identity
		provider, color string
		state           string
		shareID         uuid.NullUUID
	)

	err := row.Scan(
		&identity.ID,
		&provider,
		&identity.ProviderID,
		&identity.Email,
		&identity.DisplayName,
		&identity.AvatarURL,
		&color,
		&shareID,
		&state,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if shareID.Valid {
		id := shareID.UUID
		identity.ShareID = &id
	}
	identity.Provider = core.Provider(provider)
	identity.Color = core.Color(color)
	identity.State = core.IdentityState(state)
	identity.CreatedAt = identity.CreatedAt.UTC()
	identity.UpdatedAt = identity.UpdatedAt.UTC()

	return &identity, nil
}

func (r *PostgresRepository) FindIdentityByID(ctx context.Context, id uuid.UUID) (*core.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+pgIdentityColumns+` FROM identities WHERE id = $1`, id)
	return scanPgIdentity(row)
}

func (r *PostgresRepository) FindIdentityByFederation(ctx context.Context, provider core.Provider, providerID string) (*core.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+pgIdentityColumns+` FROM identities WHERE provider = $1 AND provider_id = $2`,
		string(provider), providerID)
	return scanPgIdentity(row)
}

func (r *PostgresRepository) FindIdentityByShareID(ctx context.Context, shareID uuid.UUID) (*core.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+pgIdentityColumns+` FROM identities WHERE share_id = $1`, shareID)
	return scanPgIdentity(row)
}

func (r *PostgresRepository) CreatePendingIdentity(ctx context.Context, identity *core.Identity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (id, provider, provider_id, email, display_name, avatar_url, color, share_id, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, '', NULL, 'PENDING', $7, $8)`,
		identity.ID,
		string(identity.Provider),
		identity.ProviderID,
		identity.Email,
		identity.DisplayName,
		identity.AvatarURL,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return core.ErrConflict
		}
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CompleteRegistration(ctx context.Context, id uuid.UUID, displayName string, color core.Color) (*core.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE identities
		 SET state = 'ACTIVE', share_id = $1, display_name = $2, color = $3, updated_at = NOW()
		 WHERE id = $4 AND state = 'PENDING'
		 RETURNING `+pgIdentityColumns,
		uuid.New(), displayName, string(color), id,
	)

	identity, err := scanPgIdentity(row)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("failed to complete registration: %w", err)
	}

	current, err := r.FindIdentityByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &core.StateError{ID: id, State: current.State}
}

func (r *PostgresRepository) SaveRefreshToken(ctx context.Context, record *core.RefreshRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token_digest, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		record.TokenDigest, record.UserID, record.CreatedAt, record.ExpiresAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return core.ErrConflict
		}
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindRefreshToken(ctx context.Context, tokenDigest string) (*core.RefreshRecord, error) {
	var record core.RefreshRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT token_digest, user_id, created_at, expires_at FROM refresh_tokens WHERE token_digest = $1`,
		tokenDigest,
	).Scan(&record.TokenDigest, &record.UserID, &record.CreatedAt, &record.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	record.CreatedAt = record.CreatedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	return &record, nil
}

func (r *PostgresRepository) DeleteRefreshToken(ctx context.Context, tokenDigest string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_digest = $1`, tokenDigest)
	return err
}

func (r *PostgresRepository) DeleteUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	return err
}

func (r *PostgresRepository) ReplaceUserRefreshTokens(ctx context.Context, record *core.RefreshRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// the identity row lock serializes replaces for one user
	if _, err := tx.ExecContext(ctx, `SELECT id FROM identities WHERE id = $1 FOR UPDATE`, record.UserID); err != nil {
		return fmt.Errorf("failed to lock identity: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, record.UserID); err != nil {
		return fmt.Errorf("failed to delete refresh tokens: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token_digest, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		record.TokenDigest, record.UserID, record.CreatedAt, record.ExpiresAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return core.ErrConflict
		}
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refresh token: %w", err)
	}
	return nil
}

func (r *PostgresRepository) PurgeExpiredRefreshTokens(ctx context.Context, asOf time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, asOf)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *PostgresRepository) SaveLoginState(ctx context.Context, state *core.LoginState) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_states (state, provider, expires_at) VALUES ($1, $2, $3)`,
		state.State, string(state.Provider), state.ExpiresAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return core.ErrConflict
		}
		return fmt.Errorf("failed to insert login state: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ConsumeLoginState(ctx context.Context, state string) (*core.LoginState, error) {
	record := core.LoginState{State: state}
	var provider string

	err := r.db.QueryRowContext(ctx,
		`DELETE FROM login_states WHERE state = $1 RETURNING provider, expires_at`,
		state,
	).Scan(&provider, &record.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume login state: %w", err)
	}

	record.Provider = core.Provider(provider)
	record.ExpiresAt = record.ExpiresAt.UTC()
	return &record, nil
}

func (r *PostgresRepository) PurgeExpiredLoginStates(ctx context.Context, asOf time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM login_states WHERE expires_at < $1`, asOf)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func isPgUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// compile-time interface checks
var (
	_ core.Repository = (*PostgresRepository)(nil)
	_ core.Repository = (*SQLiteRepository)(nil)
	_ core.Repository = (*MemoryRepository)(nil)
)
