package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/secstack/secbot/common/db"
	"github.com/secstack/secbot/common/models"
)

// ErrScanCantBeScanned is returned by Start when the scan is already running
// or finished, so a concurrent duplicate delivery must not touch it.
var ErrScanCantBeScanned = errors.New("scan is not in a startable status")

const scanColumns = `id, check_id, scan_name, status, started_at, finished_at, response, outputs_test_id, created_at, updated_at`

// ScanRepository handles database operations for per-scanner executions
type ScanRepository struct {
	db *db.DB
}

// NewScanRepository creates a new scan repository
func NewScanRepository(database *db.DB) *ScanRepository {
	return &ScanRepository{db: database}
}

func scanScanRow(row pgx.Row) (*models.Scan, error) {
	scan := &models.Scan{}
	var outputs []byte
	err := row.Scan(
		&scan.ID,
		&scan.CheckID,
		&scan.ScanName,
		&scan.Status,
		&scan.StartedAt,
		&scan.FinishedAt,
		&scan.Response,
		&outputs,
		&scan.CreatedAt,
		&scan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &scan.OutputsTestID); err != nil {
			return nil, fmt.Errorf("decode outputs_test_id: %w", err)
		}
	}
	return scan, nil
}

// Start moves the scan for (check, scanner) into IN_PROGRESS, creating the
// row on first sight. The row is locked for the duration of the transaction:
// if another worker already took it past NEW or ERROR, ErrScanCantBeScanned
// is returned and the caller must drop the duplicate.
func (r *ScanRepository) Start(ctx context.Context, checkID int64, scanName string) (*models.Scan, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin start scan: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO security_scan (check_id, scan_name)
		VALUES ($1, $2)
		ON CONFLICT (check_id, scan_name) DO NOTHING
	`, checkID, scanName)
	if err != nil {
		return nil, fmt.Errorf("insert scan: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM security_scan
		WHERE check_id = $1 AND scan_name = $2
		FOR UPDATE
	`, scanColumns)

	scan, err := scanScanRow(tx.QueryRow(ctx, query, checkID, scanName))
	if err != nil {
		return nil, fmt.Errorf("lock scan: %w", err)
	}

	if !scan.Status.Startable() {
		return nil, fmt.Errorf("scan %s of check %d is %s: %w", scanName, checkID, scan.Status, ErrScanCantBeScanned)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE security_scan
		SET status = $1, started_at = $2, finished_at = NULL, updated_at = now()
		WHERE id = $3
	`, models.ScanStatusInProgress, now, scan.ID)
	if err != nil {
		return nil, fmt.Errorf("start scan: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit start scan: %w", err)
	}

	scan.Status = models.ScanStatusInProgress
	scan.StartedAt = &now
	scan.FinishedAt = nil
	return scan, nil
}

// Complete marks the scan DONE and merges the test id reported by one output
// component into outputs_test_id. Different outputs touch different keys, so
// the jsonb merge keeps results from parallel output uploads.
func (r *ScanRepository) Complete(ctx context.Context, scanID int64, outputComponent string, testID any) error {
	merged, err := json.Marshal(map[string]any{outputComponent: testID})
	if err != nil {
		return fmt.Errorf("encode test id: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		UPDATE security_scan
		SET status = $1,
		    finished_at = now(),
		    outputs_test_id = coalesce(outputs_test_id, '{}'::jsonb) || $2::jsonb,
		    updated_at = now()
		WHERE id = $3
	`, models.ScanStatusDone, merged, scanID)
	if err != nil {
		return fmt.Errorf("complete scan %d: %w", scanID, err)
	}
	return nil
}

// SetStatus overwrites the scan status and stamps finished_at for terminal
// statuses.
func (r *ScanRepository) SetStatus(ctx context.Context, scanID int64, status models.ScanStatus) error {
	var finish string
	switch status {
	case models.ScanStatusDone, models.ScanStatusError, models.ScanStatusSkip:
		finish = "finished_at = now(),"
	}

	query := fmt.Sprintf(`
		UPDATE security_scan
		SET status = $1, %s updated_at = now()
		WHERE id = $2
	`, finish)

	if _, err := r.db.Exec(ctx, query, status, scanID); err != nil {
		return fmt.Errorf("set scan %d status %s: %w", scanID, status, err)
	}
	return nil
}

// SetResponse stores the raw scanner report.
func (r *ScanRepository) SetResponse(ctx context.Context, scanID int64, response []byte) error {
	_, err := r.db.Exec(ctx, `
		UPDATE security_scan
		SET response = $1, updated_at = now()
		WHERE id = $2
	`, response, scanID)
	if err != nil {
		return fmt.Errorf("set scan %d response: %w", scanID, err)
	}
	return nil
}

// GetByName fetches the scan of a check by scanner name. Returns (nil, nil)
// when the scanner never started for this check.
func (r *ScanRepository) GetByName(ctx context.Context, checkID int64, scanName string) (*models.Scan, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM security_scan
		WHERE check_id = $1 AND scan_name = $2
	`, scanColumns)

	scan, err := scanScanRow(r.db.QueryRow(ctx, query, checkID, scanName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scan %s of check %d: %w", scanName, checkID, err)
	}
	return scan, nil
}

// ListByCheck returns all scans recorded for a check.
func (r *ScanRepository) ListByCheck(ctx context.Context, checkID int64) ([]*models.Scan, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM security_scan
		WHERE check_id = $1
		ORDER BY id
	`, scanColumns)

	rows, err := r.db.Query(ctx, query, checkID)
	if err != nil {
		return nil, fmt.Errorf("list scans of check %d: %w", checkID, err)
	}
	defer rows.Close()

	var scans []*models.Scan
	for rows.Next() {
		scan, err := scanScanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("list scans of check %d: %w", checkID, err)
		}
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}
