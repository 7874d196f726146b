package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ec2herd/internal/config"
	"ec2herd/internal/logging"
	"ec2herd/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest provisioning run",
	Long:  `Print the saved results of the most recent provisioning run.`,
	Run: func(cmd *cobra.Command, args []string) {
		showStatus()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus() {
	log := logging.Logger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	st, err := store.New(cfg.StoreBackend, cfg.StorePath, cfg.EtcdEndpoints)
	if err != nil {
		log.Fatal("Failed to open run store", zap.Error(err))
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	record, err := st.LatestRun(ctx)
	if errors.Is(err, store.ErrNoRuns) {
		fmt.Println("No provisioning runs recorded yet")
		return
	}
	if err != nil {
		log.Fatal("Failed to load previous run", zap.Error(err))
	}

	successful := 0
	for _, res := range record.Results {
		if res.Succeeded() {
			successful++
		}
	}

	fmt.Printf("Run ID: %s\n", record.ID)
	fmt.Printf("Region: %s\n", record.Region)
	fmt.Printf("Workers: %d\n", record.Workers)
	fmt.Printf("Finished: %s\n", record.FinishedAt.Format(time.RFC3339))
	fmt.Printf("Instances: %d/%d successful\n", successful, len(record.Results))

	for _, res := range record.Results {
		if res.Succeeded() {
			fmt.Printf("  ✅ %s: %s (%s)\n", res.Name, res.InstanceID, res.PublicIP)
		} else {
			fmt.Printf("  ❌ %s [%s]: %s\n", res.Name, res.Outcome, res.Error)
		}
	}
}
