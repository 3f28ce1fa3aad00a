package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/phalaflow/orchestrator/internal/config"
	"github.com/phalaflow/orchestrator/pkg/datastore"
	"github.com/phalaflow/orchestrator/pkg/errors"
)

var fetchOutput string

var sha256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

var fetchCmd = &cobra.Command{
	Use:   "fetch <sha256>",
	Short: "Download a published code package and verify its checksum",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVar(&fetchOutput, "output", "", "Destination file (defaults to the checksum)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	checksum := args[0]
	if !sha256Pattern.MatchString(checksum) {
		return fmt.Errorf("invalid package checksum %q, want 64 lowercase hex characters", checksum)
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if cfg.DatastoreSysroot == "" {
		return fmt.Errorf("datastore-sysroot is required for fetch")
	}

	store, err := datastore.NewClient(ctx, cfg.DatastoreSysroot, cfg.DatastoreRegion)
	if err != nil {
		return errors.Wrap(err, "datastore client failed")
	}

	blob, err := store.Download(ctx, datastore.PackageKey(checksum))
	if err != nil {
		return errors.Wrap(err, "package download failed")
	}

	sum := sha256.Sum256(blob)
	if got := hex.EncodeToString(sum[:]); got != checksum {
		return fmt.Errorf("package content mismatch: stored under %s but hashes to %s", checksum, got)
	}

	output := fetchOutput
	if output == "" {
		output = checksum
	}
	if err := os.WriteFile(output, blob, 0644); err != nil {
		return errors.Wrap(err, "failed to write package")
	}

	fmt.Printf("Fetched package %s (%d bytes) to %s\n", checksum, len(blob), output)
	return nil
}
