package orchestrator

import (
	"context"
	"log/slog"
	"os"

	"github.com/phalaflow/orchestrator/pkg/db"
	"github.com/phalaflow/orchestrator/pkg/errors"
	"github.com/phalaflow/orchestrator/pkg/naming"
)

// workloadMarkerEnv is set inside the CVM environment; its presence tells a
// hook it is running on the workload side rather than the host side.
const workloadMarkerEnv = "METAFLOW_PHALA_WORKLOAD"

// StepHooks is the capability surface a host workflow engine drives around
// one remote step. Machine implements it; the host only needs interface
// conformance, no inheritance.
type StepHooks interface {
	// StepInit validates the configuration before any remote call.
	StepInit(ctx context.Context) error
	// TaskCreated publishes the run's code package unless the task is a
	// clone of already-completed work.
	TaskCreated(ctx context.Context, req *LaunchRequest) error
	// StepLaunch runs the full launch state machine and tears down.
	StepLaunch(ctx context.Context, req *LaunchRequest) (*LaunchResponse, error)
	// PreStep records execution metadata when invoked on the workload side.
	PreStep(ctx context.Context, req *LaunchRequest) error
	// TaskFinished records the task's final outcome.
	TaskFinished(ctx context.Context, req *LaunchRequest, ok bool) error
}

var _ StepHooks = (*Machine)(nil)

// StepInit fails fast on configuration problems so a broken credential or a
// local datastore surfaces before any CVM is provisioned.
func (m *Machine) StepInit(ctx context.Context) error {
	return m.cfg.Validate()
}

// TaskCreated publishes the code package through the run-scoped cache.
// Cloned tasks skip publication entirely.
func (m *Machine) TaskCreated(ctx context.Context, req *LaunchRequest) error {
	if req.IsCloned {
		slog.Info("package_publish_skipped", "run_id", req.RunID, "reason", "cloned_task")
		return nil
	}
	_, err := m.resolvePackage(ctx, req)
	return errors.Wrap(err, "failed to publish code package")
}

// PreStep is a no-op on the host side. On the workload side it records the
// CVM identity against the launch record so the metadata survives the CVM.
func (m *Machine) PreStep(ctx context.Context, req *LaunchRequest) error {
	if os.Getenv(workloadMarkerEnv) == "" {
		return nil
	}

	name := os.Getenv("METAFLOW_PHALA_CVM_NAME")
	if name == "" {
		name = naming.CVMName(req.FlowName, req.StepName, req.RunID, req.Attempt)
	}
	slog.Info("workload_pre_step", "cvm_name", name, "run_id", req.RunID, "step", req.StepName)

	launch, err := m.repo.GetByCVMName(name)
	if err != nil || launch == nil {
		return err
	}
	return m.repo.UpdateStatus(launch.ID, db.StatusRunning, "")
}

// TaskFinished records the task's final outcome on its launch record.
func (m *Machine) TaskFinished(ctx context.Context, req *LaunchRequest, ok bool) error {
	name := naming.CVMName(req.FlowName, req.StepName, req.RunID, req.Attempt)

	launch, err := m.repo.GetByCVMName(name)
	if err != nil || launch == nil {
		return err
	}

	status := db.StatusCompleted
	if !ok {
		status = db.StatusFailed
	}
	slog.Info("task_finished", "cvm_name", name, "status", status)
	return m.repo.UpdateStatus(launch.ID, status, launch.ErrorMessage)
}
