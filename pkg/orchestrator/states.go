package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/superfly/fsm"

	"github.com/phalaflow/orchestrator/pkg/compose"
	"github.com/phalaflow/orchestrator/pkg/db"
	"github.com/phalaflow/orchestrator/pkg/errors"
	"github.com/phalaflow/orchestrator/pkg/naming"
	"github.com/phalaflow/orchestrator/pkg/packagecache"
	"github.com/phalaflow/orchestrator/pkg/phala"
	"github.com/phalaflow/orchestrator/pkg/script"
)

// handleBuild assembles everything the launch needs: the CVM name, the
// published code package, the wrapper script, and the compose document.
// All of it is deterministic, so a retried build lands on the same artifacts.
func (m *Machine) handleBuild(ctx context.Context, req *fsm.Request[LaunchRequest, LaunchResponse]) (*fsm.Response[LaunchResponse], error) {
	name := naming.CVMName(req.Msg.FlowName, req.Msg.StepName, req.Msg.RunID, req.Msg.Attempt)
	slog.Info("fsm_state_build", "cvm_name", name, "run_id", req.Msg.RunID, "step", req.Msg.StepName)

	resp := req.W.Msg
	if resp == nil {
		resp = &LaunchResponse{}
	}
	resp.CVMName = name

	artifact, err := m.resolvePackage(ctx, req.Msg)
	if err != nil {
		return nil, fsm.Abort(errors.Wrap(err, "failed to publish code package"))
	}
	resp.PackageURL = artifact.URL
	resp.PackageSHA = artifact.SHA256

	env := m.buildEnvironment(name, req.Msg, artifact)
	wrapper := script.StepScript(setupCommands(req.Msg), req.Msg.Workload.Command)
	command := script.Bootstrap(artifact.URL, artifact.SHA256, wrapper)

	composeDoc, err := compose.Build(req.Msg.Workload.Image, env, command)
	if err != nil {
		return nil, fsm.Abort(errors.Wrap(err, "failed to build compose document"))
	}
	resp.ComposeYAML = string(composeDoc)

	launch, err := m.repo.GetByCVMName(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up launch record")
	}
	if launch == nil {
		launch = &db.Launch{
			RunID:    req.Msg.RunID,
			StepName: req.Msg.StepName,
			Attempt:  req.Msg.Attempt,
			CVMName:  name,
			Status:   db.StatusBuilding,
		}
		if err := m.repo.Create(launch); err != nil {
			return nil, errors.Wrap(err, "failed to create launch record")
		}
	} else if err := m.repo.UpdateStatus(launch.ID, db.StatusBuilding, ""); err != nil {
		return nil, errors.Wrap(err, "failed to reset launch record")
	}
	resp.LaunchID = launch.ID

	return fsm.NewResponse(resp), nil
}

// handleProvision registers the deployment content with the control API.
// Nothing exists remotely yet, so failures abort without teardown.
func (m *Machine) handleProvision(ctx context.Context, req *fsm.Request[LaunchRequest, LaunchResponse]) (*fsm.Response[LaunchResponse], error) {
	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	slog.Info("fsm_state_provision", "cvm_name", resp.CVMName)

	if err := m.repo.UpdateStatus(resp.LaunchID, db.StatusProvisioning, ""); err != nil {
		return nil, errors.Wrap(err, "failed to update status")
	}

	w := req.Msg.Workload
	result, err := m.client.Provision(ctx, resp.CVMName, []byte(resp.ComposeYAML), w.VCPU, w.MemoryMB, w.DiskGB)
	if err != nil {
		if uerr := m.repo.UpdateStatus(resp.LaunchID, db.StatusFailed, err.Error()); uerr != nil {
			slog.Error("status_update_failed", "launch_id", resp.LaunchID, "status", db.StatusFailed, "error", uerr)
		}
		return nil, fsm.Abort(errors.Wrapf(err, "failed to provision CVM %s", resp.CVMName))
	}

	resp.AppID = result.AppID
	resp.ComposeHash = result.ComposeHash

	launch, _ := m.repo.GetByCVMName(resp.CVMName)
	if launch != nil {
		launch.AppID = result.AppID
		launch.ComposeHash = result.ComposeHash
		if err := m.repo.Update(launch); err != nil {
			return nil, errors.Wrap(err, "failed to record provision result")
		}
	}

	return fsm.NewResponse(resp), nil
}

// handleCreate instantiates and starts the CVM.
func (m *Machine) handleCreate(ctx context.Context, req *fsm.Request[LaunchRequest, LaunchResponse]) (*fsm.Response[LaunchResponse], error) {
	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	slog.Info("fsm_state_create", "cvm_name", resp.CVMName, "app_id", resp.AppID)

	cvm, err := m.client.Create(ctx, resp.AppID, resp.ComposeHash)
	if err != nil {
		if uerr := m.repo.UpdateStatus(resp.LaunchID, db.StatusFailed, err.Error()); uerr != nil {
			slog.Error("status_update_failed", "launch_id", resp.LaunchID, "status", db.StatusFailed, "error", uerr)
		}
		return nil, fsm.Abort(errors.Wrapf(err, "failed to create CVM %s", resp.CVMName))
	}

	resp.CVMID = cvm.ID
	resp.Status = cvm.Status

	launch, _ := m.repo.GetByCVMName(resp.CVMName)
	if launch != nil {
		launch.CVMID = cvm.ID
		launch.Status = db.StatusCreated
		if err := m.repo.Update(launch); err != nil {
			return nil, errors.Wrap(err, "failed to record CVM id")
		}
	}

	return fsm.NewResponse(resp), nil
}

// handleWaitRunning blocks until the CVM reports running, classifying
// terminal failures and deadline expiry into distinct record statuses.
func (m *Machine) handleWaitRunning(ctx context.Context, req *fsm.Request[LaunchRequest, LaunchResponse]) (*fsm.Response[LaunchResponse], error) {
	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	slog.Info("fsm_state_wait_running", "cvm_name", resp.CVMName, "cvm_id", resp.CVMID)

	if err := m.repo.UpdateStatus(resp.LaunchID, db.StatusWaiting, ""); err != nil {
		return nil, errors.Wrap(err, "failed to update status")
	}

	timeout := time.Duration(req.Msg.Workload.TimeoutSeconds) * time.Second
	if err := m.client.WaitForRunning(ctx, resp.CVMID, timeout); err != nil {
		resp.ErrorMessage = err.Error()

		var timeoutErr *phala.TimeoutError
		status := db.StatusFailed
		if stderrors.As(err, &timeoutErr) {
			status = db.StatusTimedOut
		}
		var termErr *phala.TerminalStateError
		if stderrors.As(err, &termErr) {
			resp.Status = termErr.CVM.Status
		}

		if uerr := m.repo.UpdateStatus(resp.LaunchID, status, err.Error()); uerr != nil {
			slog.Error("status_update_failed", "launch_id", resp.LaunchID, "status", status, "error", uerr)
		}
		return nil, fsm.Abort(errors.Wrapf(err, "CVM %s did not reach running", resp.CVMName))
	}

	resp.Status = "running"
	if err := m.repo.UpdateStatus(resp.LaunchID, db.StatusRunning, ""); err != nil {
		return nil, errors.Wrap(err, "failed to update status")
	}

	return fsm.NewResponse(resp), nil
}

// handleAwaitExit polls until the container reaches a terminal state. The
// step's exit code is propagated through the wrapper script and observed by
// the host's log collector; this state only waits for the resource itself
// to settle, bounded by the workload timeout.
func (m *Machine) handleAwaitExit(ctx context.Context, req *fsm.Request[LaunchRequest, LaunchResponse]) (*fsm.Response[LaunchResponse], error) {
	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	slog.Info("fsm_state_await_exit", "cvm_name", resp.CVMName, "cvm_id", resp.CVMID)

	deadline := time.Now().Add(time.Duration(req.Msg.Workload.TimeoutSeconds) * time.Second)
	for !m.client.IsStopped(ctx, resp.CVMID) {
		if time.Now().After(deadline) {
			err := fmt.Errorf("timeout waiting for CVM %s to finish", resp.CVMName)
			if uerr := m.repo.UpdateStatus(resp.LaunchID, db.StatusTimedOut, err.Error()); uerr != nil {
				slog.Error("status_update_failed", "launch_id", resp.LaunchID, "status", db.StatusTimedOut, "error", uerr)
			}
			return nil, fsm.Abort(err)
		}
		select {
		case <-ctx.Done():
			return nil, fsm.Abort(ctx.Err())
		case <-time.After(m.pollInterval):
		}
	}

	resp.Status = "stopped"
	return fsm.NewResponse(resp), nil
}

// handleComplete marks the launch record and finishes the flow.
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[LaunchRequest, LaunchResponse]) (*fsm.Response[LaunchResponse], error) {
	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	slog.Info("fsm_state_complete", "cvm_name", resp.CVMName)

	if err := m.repo.UpdateStatus(resp.LaunchID, db.StatusCompleted, ""); err != nil {
		return nil, errors.Wrap(err, "failed to update status")
	}
	resp.Status = db.StatusCompleted

	slog.Info("fsm_complete", "cvm_name", resp.CVMName, "status", resp.Status)
	return fsm.NewResponse(resp), nil
}

// resolvePackage returns the run's code package artifact. Cloned tasks only
// adopt what the run already published; everything else goes through the
// once-per-run publish path.
func (m *Machine) resolvePackage(ctx context.Context, req *LaunchRequest) (packagecache.Artifact, error) {
	if req.IsCloned {
		artifact, ok := m.cache.Get()
		if !ok {
			return packagecache.Artifact{}, fmt.Errorf("cloned task found no published package for run %s", req.RunID)
		}
		return artifact, nil
	}

	return m.cache.Publish(ctx, func(ctx context.Context) (packagecache.Artifact, error) {
		result, err := m.store.UploadPackage(ctx, req.PackageBlob)
		if err != nil {
			return packagecache.Artifact{}, err
		}
		return packagecache.Artifact{
			URL:      result.URL,
			SHA256:   result.SHA256,
			Metadata: req.PackageMetadata,
		}, nil
	})
}

// buildEnvironment merges the user environment with the workload markers
// the in-CVM side needs. User keys never override the markers.
func (m *Machine) buildEnvironment(cvmName string, req *LaunchRequest, artifact packagecache.Artifact) map[string]string {
	env := make(map[string]string, len(req.Workload.Env)+8)
	for k, v := range req.Workload.Env {
		env[k] = v
	}

	env["METAFLOW_PHALA_WORKLOAD"] = "1"
	env["METAFLOW_PHALA_CVM_NAME"] = cvmName
	env["METAFLOW_CODE_URL"] = artifact.URL
	env["METAFLOW_CODE_SHA"] = artifact.SHA256
	env["METAFLOW_CODE_METADATA"] = artifact.Metadata
	env["METAFLOW_DEFAULT_DATASTORE"] = "s3"
	env["METAFLOW_DATASTORE_SYSROOT_S3"] = m.cfg.DatastoreSysroot
	env["METAFLOW_RUN_ID"] = req.RunID
	return env
}

func setupCommands(req *LaunchRequest) []string {
	if len(req.SetupCommands) > 0 {
		return req.SetupCommands
	}
	return []string{"pip install --quiet metaflow"}
}
