// Package orchestrator turns one step into a remotely executed job inside a
// Phala CVM and tracks it to completion. The launch flow is a persistent
// state machine built on superfly/fsm: build the deployment artifacts,
// provision, create, wait for running, await the container's exit, then tear
// the CVM down best-effort.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/superfly/fsm"

	"github.com/phalaflow/orchestrator/internal/config"
	"github.com/phalaflow/orchestrator/pkg/datastore"
	"github.com/phalaflow/orchestrator/pkg/db"
	"github.com/phalaflow/orchestrator/pkg/errors"
	"github.com/phalaflow/orchestrator/pkg/naming"
	"github.com/phalaflow/orchestrator/pkg/packagecache"
	"github.com/phalaflow/orchestrator/pkg/phala"
)

// Store is the datastore surface the orchestrator needs for code packages.
// *datastore.Client satisfies it; tests substitute an in-memory one.
type Store interface {
	UploadPackage(ctx context.Context, blob []byte) (*datastore.UploadResult, error)
}

// Machine holds dependencies for FSM transitions. Each task attempt runs
// its own sequential flow; the only state shared between concurrent tasks
// of a run is the package cache.
type Machine struct {
	client       *phala.Client
	store        Store
	cache        *packagecache.Cache
	repo         *db.Repository
	cfg          *config.Config
	pollInterval time.Duration

	manager *fsm.Manager
	start   fsm.Start[LaunchRequest, LaunchResponse]
}

// NewMachine creates a new orchestrator machine with dependencies
func NewMachine(client *phala.Client, store Store, cache *packagecache.Cache, repo *db.Repository, cfg *config.Config) *Machine {
	return &Machine{
		client:       client,
		store:        store,
		cache:        cache,
		repo:         repo,
		cfg:          cfg,
		pollInterval: phala.DefaultPollInterval,
	}
}

// SetPollInterval overrides the completion poll interval.
func (m *Machine) SetPollInterval(d time.Duration) {
	m.pollInterval = d
}

// Register registers the CVM launch FSM with the manager.
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) error {
	start, _, err := fsm.Register[LaunchRequest, LaunchResponse](manager, "cvm-launch").
		Start(StateBuild, m.handleBuild).
		To(StateProvision, m.handleProvision).
		To(StateCreate, m.handleCreate).
		To(StateWaitRunning, m.handleWaitRunning).
		To(StateAwaitExit, m.handleAwaitExit).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to register FSM")
	}

	m.manager = manager
	m.start = start
	return nil
}

// StepLaunch drives the full state machine for one task attempt and tears
// the CVM down afterwards. Teardown failures are logged, never returned:
// they must not replace the primary outcome.
func (m *Machine) StepLaunch(ctx context.Context, req *LaunchRequest) (*LaunchResponse, error) {
	key := naming.CVMName(req.FlowName, req.StepName, req.RunID, req.Attempt)
	resp := &LaunchResponse{}

	version, err := m.start(ctx, key, fsm.NewRequest(req, resp))
	if err != nil {
		return resp, errors.Wrap(err, "failed to start launch state machine")
	}
	slog.Info("launch_fsm_started", "cvm_name", key, "version", version)

	waitErr := m.manager.Wait(ctx, version)
	m.teardown(ctx, resp)

	if waitErr != nil {
		return resp, errors.Wrapf(waitErr, "launch of %s failed", key)
	}
	return resp, nil
}

// teardown deletes the remote CVM best-effort. Nothing exists remotely
// before create succeeds, so a zero CVM id means there is nothing to clean.
func (m *Machine) teardown(ctx context.Context, resp *LaunchResponse) {
	if resp.CVMID == 0 {
		return
	}
	if err := m.client.Delete(ctx, resp.CVMID); err != nil {
		slog.Error("cvm_teardown_failed", "cvm_id", resp.CVMID, "error", err)
		return
	}
	slog.Info("cvm_torn_down", "cvm_id", resp.CVMID)
}
