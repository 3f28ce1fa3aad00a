package db

// Schema defines the SQLite schema for CVM launch records. One row exists
// per (run, step, attempt); the CVM name derived from that triple is unique.
const Schema = `
CREATE TABLE IF NOT EXISTS launches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    step_name TEXT NOT NULL,
    attempt INTEGER NOT NULL DEFAULT 0,
    cvm_name TEXT NOT NULL UNIQUE,
    cvm_id INTEGER,
    app_id TEXT,
    compose_hash TEXT,
    status TEXT NOT NULL CHECK(status IN ('building', 'provisioning', 'created', 'waiting', 'running', 'completed', 'failed', 'timed_out', 'deleted')),
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_launches_run_id ON launches(run_id);
CREATE INDEX IF NOT EXISTS idx_launches_cvm_name ON launches(cvm_name);
CREATE INDEX IF NOT EXISTS idx_launches_status ON launches(status);
`

// Status constants
const (
	StatusBuilding     = "building"
	StatusProvisioning = "provisioning"
	StatusCreated      = "created"
	StatusWaiting      = "waiting"
	StatusRunning      = "running"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
	StatusTimedOut     = "timed_out"
	StatusDeleted      = "deleted"
)

// Launch represents one CVM launch record
type Launch struct {
	ID           int64
	RunID        string
	StepName     string
	Attempt      int
	CVMName      string
	CVMID        int64
	AppID        string
	ComposeHash  string
	Status       string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}
