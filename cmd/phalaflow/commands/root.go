package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "phalaflow",
	Short: "Phala Cloud step launcher - Remote workflow step execution",
	Long:  `Launches workflow steps as confidential VMs on Phala Cloud, with S3 code packaging and FSM orchestration.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("image", "python:3.11-slim", "Default workload container image")
	rootCmd.PersistentFlags().Int("cpu", 2, "Default vCPU count")
	rootCmd.PersistentFlags().Int("memory", 2048, "Default memory in MB")
	rootCmd.PersistentFlags().Int("disk", 20, "Default disk size in GB")
	rootCmd.PersistentFlags().Int("timeout", 3600, "Default workload timeout in seconds")
	rootCmd.PersistentFlags().String("datastore-sysroot", "", "Remote datastore root (s3://bucket/prefix)")
	rootCmd.PersistentFlags().String("datastore-region", "us-east-1", "Datastore S3 region")
	rootCmd.PersistentFlags().String("api-base", "https://cloud-api.phala.network/api/v1", "Phala Cloud API base URL")
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/launches.db", "SQLite database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm.db", "FSM BoltDB path")

	viper.BindPFlag("image", rootCmd.PersistentFlags().Lookup("image"))
	viper.BindPFlag("cpu", rootCmd.PersistentFlags().Lookup("cpu"))
	viper.BindPFlag("memory", rootCmd.PersistentFlags().Lookup("memory"))
	viper.BindPFlag("disk", rootCmd.PersistentFlags().Lookup("disk"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("datastore-sysroot", rootCmd.PersistentFlags().Lookup("datastore-sysroot"))
	viper.BindPFlag("datastore-region", rootCmd.PersistentFlags().Lookup("datastore-region"))
	viper.BindPFlag("api-base", rootCmd.PersistentFlags().Lookup("api-base"))
	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
}
