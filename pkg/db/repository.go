package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phalaflow/orchestrator/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for launch records
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Create schema
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new launch record
func (r *Repository) Create(launch *Launch) error {
	slog.Info("database_create_launch", "cvm_name", launch.CVMName, "run_id", launch.RunID, "status", launch.Status)

	query := `
		INSERT INTO launches (run_id, step_name, attempt, cvm_name, cvm_id, app_id, compose_hash, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		launch.RunID, launch.StepName, launch.Attempt, launch.CVMName,
		launch.CVMID, launch.AppID, launch.ComposeHash, launch.Status, launch.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "cvm_name", launch.CVMName, "error", err)
		return errors.Wrap(err, "failed to insert launch")
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "cvm_name", launch.CVMName, "error", err)
		return errors.Wrap(err, "failed to get last insert id")
	}
	launch.ID = id

	slog.Info("database_launch_created", "cvm_name", launch.CVMName, "launch_id", launch.ID)
	return nil
}

const launchColumns = `id, run_id, step_name, attempt, cvm_name, cvm_id, app_id, compose_hash, status, error_message, created_at, updated_at`

func scanLaunch(row interface{ Scan(...any) error }) (*Launch, error) {
	var launch Launch
	var cvmID sql.NullInt64
	var appID, composeHash, errorMessage sql.NullString

	err := row.Scan(
		&launch.ID, &launch.RunID, &launch.StepName, &launch.Attempt, &launch.CVMName,
		&cvmID, &appID, &composeHash, &launch.Status, &errorMessage,
		&launch.CreatedAt, &launch.UpdatedAt)
	if err != nil {
		return nil, err
	}

	launch.CVMID = cvmID.Int64
	launch.AppID = appID.String
	launch.ComposeHash = composeHash.String
	launch.ErrorMessage = errorMessage.String
	return &launch, nil
}

// GetByCVMName retrieves a launch by its CVM name. Returns (nil, nil) when
// no record exists.
func (r *Repository) GetByCVMName(cvmName string) (*Launch, error) {
	query := `SELECT ` + launchColumns + ` FROM launches WHERE cvm_name = ?`

	launch, err := scanLaunch(r.db.QueryRow(query, cvmName))
	if err == sql.ErrNoRows {
		slog.Info("database_launch_not_found", "cvm_name", cvmName)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "cvm_name", cvmName, "error", err)
		return nil, errors.Wrap(err, "failed to query launch")
	}
	return launch, nil
}

// Update updates an existing launch record
func (r *Repository) Update(launch *Launch) error {
	slog.Info("database_update_launch", "launch_id", launch.ID, "cvm_name", launch.CVMName, "status", launch.Status)

	query := `
		UPDATE launches
		SET cvm_id = ?, app_id = ?, compose_hash = ?, status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		launch.CVMID, launch.AppID, launch.ComposeHash, launch.Status, launch.ErrorMessage, launch.ID)
	if err != nil {
		slog.Error("database_update_failed", "launch_id", launch.ID, "error", err)
		return errors.Wrap(err, "failed to update launch")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_launch_not_found_for_update", "launch_id", launch.ID)
		return fmt.Errorf("launch not found: id=%d", launch.ID)
	}
	return nil
}

// UpdateStatus updates only the status field
func (r *Repository) UpdateStatus(id int64, status, errorMessage string) error {
	slog.Info("database_update_status", "launch_id", id, "status", status)

	query := `UPDATE launches SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := r.db.Exec(query, status, errorMessage, id)
	if err != nil {
		slog.Error("database_status_update_failed", "launch_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}
	return nil
}

// List retrieves all launch records, newest first
func (r *Repository) List() ([]*Launch, error) {
	query := `SELECT ` + launchColumns + ` FROM launches ORDER BY created_at DESC`

	rows, err := r.db.Query(query)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list launches")
	}
	defer rows.Close()

	var launches []*Launch
	for rows.Next() {
		launch, err := scanLaunch(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		launches = append(launches, launch)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "launch_count", len(launches))
	return launches, nil
}

// ListByRun retrieves every launch belonging to one run
func (r *Repository) ListByRun(runID string) ([]*Launch, error) {
	query := `SELECT ` + launchColumns + ` FROM launches WHERE run_id = ? ORDER BY created_at DESC`

	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list launches for run")
	}
	defer rows.Close()

	var launches []*Launch
	for rows.Next() {
		launch, err := scanLaunch(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		launches = append(launches, launch)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return launches, nil
}

// Delete deletes a launch record by ID
func (r *Repository) Delete(id int64) error {
	slog.Info("database_delete_launch", "launch_id", id)

	query := `DELETE FROM launches WHERE id = ?`
	_, err := r.db.Exec(query, id)
	if err != nil {
		slog.Error("database_delete_failed", "launch_id", id, "error", err)
		return errors.Wrap(err, "failed to delete launch")
	}
	return nil
}
