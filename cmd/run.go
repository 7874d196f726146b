package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ec2herd/internal/ami"
	"ec2herd/internal/cloud"
	"ec2herd/internal/config"
	"ec2herd/internal/instance"
	"ec2herd/internal/logging"
	"ec2herd/internal/orchestrator"
	"ec2herd/internal/sshkeys"
	"ec2herd/internal/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runRegion  string
	runWorkers int
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Provision the instances listed in the config file",
	Long: `Load the instance list from the YAML config and provision every entry
in parallel. Spot instances are retried with exponential backoff,
on-demand instances get a single attempt. Results are printed and
saved so cleanup can terminate them later.`,
	Run: func(cmd *cobra.Command, args []string) {
		runBatch()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runRegion, "region", "r", "", "AWS region (overrides config)")
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "Maximum parallel workers (overrides config)")
}

func runBatch() {
	log := logging.Logger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if runRegion != "" {
		cfg.Region = runRegion
	}
	if runWorkers > 0 {
		cfg.MaxWorkers = runWorkers
	}

	specs := cfg.Instances()
	if len(specs) == 0 {
		log.Fatal("No instances in configuration",
			zap.String("hint", "run 'ec2herd sample' to create a starter config"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := cloud.NewEC2Client(ctx, log, cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		log.Fatal("Failed to create EC2 client", zap.Error(err))
	}
	if err := client.ValidateCredentials(ctx); err != nil {
		log.Fatal("AWS credential validation failed", zap.Error(err))
	}

	fillImages(ctx, cfg.Region, specs, log)
	importKeys(ctx, client, cfg, specs, log)

	startedAt := time.Now().UTC()
	results, err := orchestrator.New(client, log).Run(ctx, specs, cfg.MaxWorkers)
	if err != nil {
		log.Fatal("Provisioning failed", zap.Error(err))
	}

	printResults(results)
	saveRun(cfg, startedAt, results, log)
}

// fillImages resolves the current Ubuntu LTS AMI for every spec that
// does not name an image of its own.
func fillImages(ctx context.Context, region string, specs []instance.Spec, log *zap.Logger) {
	resolver := ami.GetResolver()
	for i := range specs {
		if specs[i].ImageID != "" {
			continue
		}
		image, err := resolver.Resolve(ctx, region)
		if err != nil {
			log.Fatal("Failed to resolve default image",
				zap.String("region", region),
				zap.Error(err))
		}
		specs[i].ImageID = image
	}
}

// importKeys generates (or reuses) the local keypair, imports it, and
// assigns it to every spec without a key of its own.
func importKeys(ctx context.Context, client *cloud.EC2Client, cfg *config.Config, specs []instance.Spec, log *zap.Logger) {
	if !cfg.ImportKeyPair {
		return
	}

	pair, err := sshkeys.GetOrGenerate(cfg.KeyDir)
	if err != nil {
		log.Fatal("Failed to prepare SSH keypair", zap.Error(err))
	}
	if err := client.EnsureKeyPair(ctx, cfg.KeyName, pair.PublicKey); err != nil {
		log.Fatal("Failed to import SSH keypair", zap.Error(err))
	}
	log.Info("SSH keypair ready",
		zap.String("key_name", cfg.KeyName),
		zap.String("private_key", pair.PrivateKeyPath))

	for i := range specs {
		if specs[i].KeyName == "" {
			specs[i].KeyName = cfg.KeyName
		}
	}
}

func printResults(results []instance.Result) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("PROVISIONING RESULTS")
	fmt.Println(strings.Repeat("=", 60))

	for _, res := range results {
		if res.Succeeded() {
			fmt.Printf("✅ %s: %s (%s)\n", res.Name, res.InstanceID, res.PublicIP)
		} else {
			fmt.Printf("❌ %s: %s\n", res.Name, res.Error)
		}
	}
}

// saveRun persists the batch on its own context so results survive an
// interrupted run and cleanup can still find them.
func saveRun(cfg *config.Config, startedAt time.Time, results []instance.Result, log *zap.Logger) {
	st, err := store.New(cfg.StoreBackend, cfg.StorePath, cfg.EtcdEndpoints)
	if err != nil {
		log.Fatal("Failed to open run store", zap.Error(err))
	}
	defer st.Close()

	record := store.RunRecord{
		ID:         uuid.NewString(),
		Region:     cfg.Region,
		Workers:    cfg.MaxWorkers,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Results:    results,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.SaveRun(ctx, record); err != nil {
		log.Fatal("Failed to save run results", zap.Error(err))
	}

	fmt.Printf("\nResults saved (run %s)\n", record.ID)
}
