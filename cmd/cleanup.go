/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ec2herd/internal/cloud"
	"ec2herd/internal/config"
	"ec2herd/internal/logging"
	"ec2herd/internal/orchestrator"
	"ec2herd/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Terminate the instances created by the previous run",
	Long: `Load the most recent provisioning run from the configured store and
terminate every instance it created. Instances that are already gone
count as cleaned up, so running cleanup twice is safe.`,
	Run: func(cmd *cobra.Command, args []string) {
		cleanupRun()
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func cleanupRun() {
	log := logging.Logger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.StoreBackend, cfg.StorePath, cfg.EtcdEndpoints)
	if err != nil {
		log.Fatal("Failed to open run store", zap.Error(err))
	}
	defer st.Close()

	record, err := st.LatestRun(ctx)
	if errors.Is(err, store.ErrNoRuns) {
		fmt.Println("No previous provisioning results found")
		return
	}
	if err != nil {
		log.Fatal("Failed to load previous run", zap.Error(err))
	}

	// Terminate in the region the run actually used, not whatever the
	// config says today.
	client, err := cloud.NewEC2Client(ctx, log, record.Region, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		log.Fatal("Failed to create EC2 client", zap.Error(err))
	}

	fmt.Println("Cleaning up instances from previous run...")
	outcomes := orchestrator.NewCleanupManager(client, log).TerminateAll(ctx, record.Results)
	if len(outcomes) == 0 {
		fmt.Println("No instances to clean up")
		return
	}

	for _, outcome := range outcomes {
		status := "✅"
		if !outcome.Terminated {
			status = "❌"
		}
		fmt.Printf("%s %s\n", status, outcome.InstanceID)
	}
}
