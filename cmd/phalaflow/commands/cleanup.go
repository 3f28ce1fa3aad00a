package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phalaflow/orchestrator/internal/config"
	"github.com/phalaflow/orchestrator/pkg/db"
	"github.com/phalaflow/orchestrator/pkg/errors"
	"github.com/phalaflow/orchestrator/pkg/phala"
)

var (
	cleanupAll   bool
	cleanupCVM   string
	cleanupRunID string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Tear down CVMs and mark their launch records deleted",
	Long: `Tear down remote CVMs left behind by launches:
  --all            Tear down every tracked CVM
  --cvm <name>     Tear down the CVM for one launch
  --run-id <id>    Tear down every CVM belonging to one run`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Tear down all tracked CVMs")
	cleanupCmd.Flags().StringVar(&cleanupCVM, "cvm", "", "Tear down a specific launch by CVM name")
	cleanupCmd.Flags().StringVar(&cleanupRunID, "run-id", "", "Tear down every launch of a run")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("a Phala Cloud API key is required for cleanup")
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	client := phala.NewClientWithBaseURL(cfg.APIKey, cfg.APIBase)
	ctx := context.Background()

	switch {
	case cleanupAll:
		launches, err := repo.List()
		if err != nil {
			return errors.Wrap(err, "list failed")
		}
		return cleanupLaunches(ctx, repo, client, launches)
	case cleanupRunID != "":
		launches, err := repo.ListByRun(cleanupRunID)
		if err != nil {
			return errors.Wrap(err, "list failed")
		}
		return cleanupLaunches(ctx, repo, client, launches)
	case cleanupCVM != "":
		launch, err := repo.GetByCVMName(cleanupCVM)
		if err != nil {
			return errors.Wrap(err, "lookup failed")
		}
		if launch == nil {
			return fmt.Errorf("launch not found: %s", cleanupCVM)
		}
		return cleanupLaunches(ctx, repo, client, []*db.Launch{launch})
	default:
		return fmt.Errorf("must specify --all, --cvm, or --run-id")
	}
}

func cleanupLaunches(ctx context.Context, repo *db.Repository, client *phala.Client, launches []*db.Launch) error {
	cleaned := 0
	for _, launch := range launches {
		if launch.Status == db.StatusDeleted {
			continue
		}
		if err := cleanupLaunch(ctx, repo, client, launch); err != nil {
			fmt.Printf("Failed to clean %s: %v\n", launch.CVMName, err)
			continue
		}
		fmt.Printf("Cleaned: %s\n", launch.CVMName)
		cleaned++
	}
	fmt.Printf("Tore down %d of %d launches\n", cleaned, len(launches))
	return nil
}

func cleanupLaunch(ctx context.Context, repo *db.Repository, client *phala.Client, launch *db.Launch) error {
	// Nothing was ever created remotely for records without a CVM id.
	if launch.CVMID != 0 {
		// Delete tolerates CVMs that are already gone.
		if err := client.Delete(ctx, launch.CVMID); err != nil {
			return errors.Wrap(err, "CVM delete failed")
		}
	}
	return repo.UpdateStatus(launch.ID, db.StatusDeleted, "")
}
