package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paperrnint/advent-calendar-be/core"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite/schema.sql
var sqliteSchema string

// SQLiteRepository stores timestamps as unix seconds
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) initSchema() error {
	_, err := r.db.Exec(sqliteSchema)
	return err
}

const sqliteIdentityColumns = `id, provider, provider_id, email, display_name, avatar_url, color, share_id, state, created_at, updated_at`

func (r *SQLiteRepository) findIdentity(ctx context.Context, where string, args ...interface{}) (*core.Identity, error) {
	query := `SELECT ` + sqliteIdentityColumns + ` FROM identities WHERE ` + where

	var (
		identity             core.Identity
		idStr, provider      string
		color, state         string
		shareID              sql.NullString
		createdAt, updatedAt int64
	)

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&idStr,
		&provider,
		&identity.ProviderID,
		&identity.Email,
		&identity.DisplayName,
		&identity.AvatarURL,
		&color,
		&shareID,
		&state,
		&createdAt,
		&updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	identity.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt identity id %q: %w", idStr, err)
	}
	if shareID.Valid {
		parsed, err := uuid.Parse(shareID.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt share id %q: %w", shareID.String, err)
		}
		identity.ShareID = &parsed
	}
	identity.Provider = core.Provider(provider)
	identity.Color = core.Color(color)
	identity.State = core.IdentityState(state)
	identity.CreatedAt = time.Unix(createdAt, 0).UTC()
	identity.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &identity, nil
}

func (r *SQLiteRepository) FindIdentityByID(ctx context.Context, id uuid.UUID) (*core.Identity, error) {
	return r.findIdentity(ctx, `id = ?`, id.String())
}

func (r *SQLiteRepository) FindIdentityByFederation(ctx context.Context, provider core.Provider, providerID string) (*core.Identity, error) {
	return r.findIdentity(ctx, `provider = ? AND provider_id = ?`, string(provider), providerID)
}

func (r *SQLiteRepository) FindIdentityByShareID(ctx context.Context, shareID uuid.UUID) (*core.Identity, error) {
	return r.findIdentity(ctx, `share_id = ?`, shareID.String())
}

func (r *SQLiteRepository) CreatePendingIdentity(ctx context.Context, identity *core.Identity) error {
	query := `
		INSERT INTO identities (id, provider, provider_id, email, display_name, avatar_url, color, share_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '', NULL, 'PENDING', ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		identity.ID.String(),
		string(identity.Provider),
		identity.ProviderID,
		identity.Email,
		identity.DisplayName,
		identity.AvatarURL,
		identity.CreatedAt.Unix(),
		identity.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.ErrConflict
		}
		return err
	}

	return nil
}

// CompleteRegistration is a single conditional UPDATE; of several concurrent
// callers exactly one matches state = 'PENDING'.
func (r *SQLiteRepository) CompleteRegistration(ctx context.Context, id uuid.UUID, displayName string, color core.Color) (*core.Identity, error) {
	query := `
		UPDATE identities
		SET state = 'ACTIVE', share_id = ?, display_name = ?, color = ?, updated_at = ?
		WHERE id = ? AND state = 'PENDING'
	`

	result, err := r.db.ExecContext(ctx, query,
		uuid.NewString(),
		displayName,
		string(color),
		time.Now().Unix(),
		id.String(),
	)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	identity, err := r.FindIdentityByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, &core.StateError{ID: id, State: identity.State}
	}

	return identity, nil
}

func (r *SQLiteRepository) SaveRefreshToken(ctx context.Context, record *core.RefreshRecord) error {
	query := `
		INSERT INTO refresh_tokens (token_digest, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.TokenDigest,
		record.UserID.String(),
		record.CreatedAt.Unix(),
		record.ExpiresAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.ErrConflict
		}
		return err
	}

	return nil
}

func (r *SQLiteRepository) FindRefreshToken(ctx context.Context, tokenDigest string) (*core.RefreshRecord, error) {
	query := `
		SELECT token_digest, user_id, created_at, expires_at
		FROM refresh_tokens
		WHERE token_digest = ?
	`

	var record core.RefreshRecord
	var userIDStr string
	var createdAt, expiresAt int64

	err := r.db.QueryRowContext(ctx, query, tokenDigest).Scan(
		&record.TokenDigest,
		&userIDStr,
		&createdAt,
		&expiresAt,
	)

	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	record.UserID, err = uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh token user id %q: %w", userIDStr, err)
	}
	record.CreatedAt = time.Unix(createdAt, 0).UTC()
	record.ExpiresAt = time.Unix(expiresAt, 0).UTC()

	return &record, nil
}

func (r *SQLiteRepository) DeleteRefreshToken(ctx context.Context, tokenDigest string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_digest = ?`, tokenDigest)
	return err
}

func (r *SQLiteRepository) DeleteUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID.String())
	return err
}

func (r *SQLiteRepository) ReplaceUserRefreshTokens(ctx context.Context, record *core.RefreshRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, record.UserID.String())
	if err != nil {
		return err
	}

	query := `
		INSERT INTO refresh_tokens (token_digest, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		record.TokenDigest,
		record.UserID.String(),
		record.CreatedAt.Unix(),
		record.ExpiresAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.ErrConflict
		}
		return err
	}

	return tx.Commit()
}

func (r *SQLiteRepository) PurgeExpiredRefreshTokens(ctx context.Context, asOf time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, asOf.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *SQLiteRepository) SaveLoginState(ctx context.Context, state *core.LoginState) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_states (state, provider, expires_at) VALUES (?, ?, ?)`,
		state.State,
		string(state.Provider),
		state.ExpiresAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.ErrConflict
		}
		return err
	}
	return nil
}

func (r *SQLiteRepository) ConsumeLoginState(ctx context.Context, state string) (*core.LoginState, error) {
	var provider string
	var expiresAt int64

	err := r.db.QueryRowContext(ctx,
		`DELETE FROM login_states WHERE state = ? RETURNING provider, expires_at`,
		state,
	).Scan(&provider, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &core.LoginState{
		State:     state,
		Provider:  core.Provider(provider),
		ExpiresAt: time.Unix(expiresAt, 0).UTC(),
	}, nil
}

func (r *SQLiteRepository) PurgeExpiredLoginStates(ctx context.Context, asOf time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM login_states WHERE expires_at < ?`, asOf.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "UNIQUE constraint failed") ||
		strings.Contains(errMsg, "PRIMARY KEY constraint failed")
}
