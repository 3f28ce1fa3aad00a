package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/phalaflow/orchestrator/internal/config"
	"github.com/phalaflow/orchestrator/pkg/datastore"
	"github.com/phalaflow/orchestrator/pkg/db"
	"github.com/phalaflow/orchestrator/pkg/errors"
	"github.com/phalaflow/orchestrator/pkg/orchestrator"
	"github.com/phalaflow/orchestrator/pkg/packagecache"
	"github.com/phalaflow/orchestrator/pkg/phala"
)

var (
	runID       string
	runAttempt  int
	runCommand  string
	runPackage  string
	runMetadata string
	runEnv      []string
	runSetup    []string
	runCloned   bool
)

var runCmd = &cobra.Command{
	Use:   "run <flow-name> <step-name>",
	Short: "Launch a step in a Phala Cloud CVM and wait for completion",
	Args:  cobra.ExactArgs(2),
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (generated when empty)")
	runCmd.Flags().IntVar(&runAttempt, "attempt", 0, "Attempt number for this task")
	runCmd.Flags().StringVar(&runCommand, "command", "", "Step command to execute inside the CVM")
	runCmd.Flags().StringVar(&runPackage, "package", "", "Path to the code package tarball")
	runCmd.Flags().StringVar(&runMetadata, "package-metadata", "", "Opaque package metadata passed to the workload")
	runCmd.Flags().StringArrayVar(&runEnv, "env", nil, "Workload environment as KEY=VALUE (repeatable)")
	runCmd.Flags().StringArrayVar(&runSetup, "setup", nil, "Setup command run before the step (repeatable)")
	runCmd.Flags().BoolVar(&runCloned, "cloned", false, "Task is a clone; reuse the run's published package")
	runCmd.MarkFlagRequired("command")
	runCmd.MarkFlagRequired("package")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	flowName, stepName := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath); err != nil {
		return err
	}

	if runID == "" {
		runID = uuid.NewString()
		slog.Info("run_id_generated", "run_id", runID)
	}

	blob, err := os.ReadFile(runPackage)
	if err != nil {
		return errors.Wrap(err, "failed to read code package")
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	store, err := datastore.NewClient(ctx, cfg.DatastoreSysroot, cfg.DatastoreRegion)
	if err != nil {
		return errors.Wrap(err, "datastore client failed")
	}

	client := phala.NewClientWithBaseURL(cfg.APIKey, cfg.APIBase)

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := orchestrator.NewMachine(client, store, &packagecache.Cache{}, repo, cfg)
	if err := machine.Register(ctx, manager); err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	env, err := parseEnv(runEnv)
	if err != nil {
		return err
	}

	req := &orchestrator.LaunchRequest{
		FlowName: flowName,
		StepName: stepName,
		RunID:    runID,
		Attempt:  runAttempt,
		Workload: orchestrator.WorkloadSpec{
			Image:          cfg.Image,
			VCPU:           cfg.CPU,
			MemoryMB:       cfg.Memory,
			DiskGB:         cfg.Disk,
			TimeoutSeconds: cfg.Timeout,
			Env:            env,
			Command:        runCommand,
		},
		SetupCommands:   runSetup,
		PackageBlob:     blob,
		PackageMetadata: runMetadata,
		IsCloned:        runCloned,
	}

	resp, err := machine.StepLaunch(ctx, req)
	if err != nil {
		return errors.Wrap(err, "launch failed")
	}

	slog.Info("run_completed",
		"cvm_name", resp.CVMName, "cvm_id", resp.CVMID,
		"app_id", resp.AppID, "status", resp.Status,
		"package_url", resp.PackageURL)

	return nil
}

func parseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env value %q, want KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
