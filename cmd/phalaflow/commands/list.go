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
	listRemote bool
	listRunID  string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List launch records and their status",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listRemote, "remote", false, "List CVMs from the Phala Cloud API instead of local records")
	listCmd.Flags().StringVar(&listRunID, "run-id", "", "Only show launches belonging to this run")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	if listRemote {
		return listRemoteCVMs(cfg)
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	var launches []*db.Launch
	if listRunID != "" {
		launches, err = repo.ListByRun(listRunID)
	} else {
		launches, err = repo.List()
	}
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(launches) == 0 {
		fmt.Println("No launches found")
		return nil
	}

	fmt.Printf("%-40s %-12s %-20s %-10s %-12s\n", "CVM NAME", "RUN ID", "STEP", "CVM ID", "STATUS")
	fmt.Println("------------------------------------------------------------------------------------------------")

	for _, l := range launches {
		cvmID := "-"
		if l.CVMID != 0 {
			cvmID = fmt.Sprintf("%d", l.CVMID)
		}
		fmt.Printf("%-40s %-12s %-20s %-10s %-12s\n",
			l.CVMName, l.RunID, l.StepName, cvmID, l.Status)
	}

	return nil
}

func listRemoteCVMs(cfg *config.Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("a Phala Cloud API key is required for --remote")
	}

	client := phala.NewClientWithBaseURL(cfg.APIKey, cfg.APIBase)
	cvms, err := client.List(context.Background())
	if err != nil {
		return errors.Wrap(err, "remote list failed")
	}

	if len(cvms) == 0 {
		fmt.Println("No CVMs found")
		return nil
	}

	fmt.Printf("%-10s %-40s %-12s %-20s\n", "CVM ID", "NAME", "STATUS", "APP ID")
	fmt.Println("------------------------------------------------------------------------------------------------")
	for _, cvm := range cvms {
		fmt.Printf("%-10d %-40s %-12s %-20s\n", cvm.ID, cvm.Name, cvm.Status, cvm.AppID)
	}
	return nil
}
