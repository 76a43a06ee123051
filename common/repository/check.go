package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/secstack/secbot/common/db"
	"github.com/secstack/secbot/common/models"
)

const checkColumns = `id, external_id, event_type, event_json, commit_hash, branch, project_name, path, prefix, created_at, updated_at`

// CheckRepository handles database operations for security checks
type CheckRepository struct {
	db *db.DB
}

// NewCheckRepository creates a new check repository
func NewCheckRepository(database *db.DB) *CheckRepository {
	return &CheckRepository{db: database}
}

func scanCheckRow(row pgx.Row) (*models.Check, error) {
	check := &models.Check{}
	err := row.Scan(
		&check.ID,
		&check.ExternalID,
		&check.EventType,
		&check.EventJSON,
		&check.CommitHash,
		&check.Branch,
		&check.ProjectName,
		&check.Path,
		&check.Prefix,
		&check.CreatedAt,
		&check.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return check, nil
}

// GetByExternalID retrieves a check by external id. Returns (nil, nil) when
// no such check exists.
func (r *CheckRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Check, error) {
	query := fmt.Sprintf(`SELECT %s FROM security_check WHERE external_id = $1`, checkColumns)

	check, err := scanCheckRow(r.db.QueryRow(ctx, query, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get check: %w", err)
	}
	return check, nil
}

// GetOrCreate inserts a check for the external id, or returns the existing
// row. The insert races safely: a concurrent duplicate hits the unique
// constraint, inserts nothing, and the existing row is re-read.
func (r *CheckRepository) GetOrCreate(ctx context.Context, initial *models.Check) (*models.Check, error) {
	existing, err := r.GetByExternalID(ctx, initial.ExternalID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO security_check (external_id, event_type, event_json, commit_hash, branch, project_name, path, prefix)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING %s
	`, checkColumns)

	check, err := scanCheckRow(r.db.QueryRow(
		ctx,
		query,
		initial.ExternalID,
		initial.EventType,
		initial.EventJSON,
		initial.CommitHash,
		initial.Branch,
		initial.ProjectName,
		initial.Path,
		initial.Prefix,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race; the conflicting row is the one we want
		return r.GetByExternalID(ctx, initial.ExternalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create check: %w", err)
	}
	return check, nil
}
