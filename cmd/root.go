/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ec2herd",
	Short: "Batch EC2 provisioning with spot retry and cleanup",
	Long: `ec2herd provisions a batch of EC2 instances described in a YAML
config file. Spot instances are requested with retry and exponential
backoff, on-demand instances in a single attempt, all with bounded
parallelism. Results are saved so a later cleanup can terminate
everything the run created.`,
	// Uncomment the following line if your bare application
	// has an action associated with it:
	// Run: func(cmd *cobra.Command, args []string) { },
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Here you will define your flags and configuration settings.
	// Cobra supports persistent flags, which, if defined here,
	// will be global for your application.

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to configuration YAML file (default ec2herd.yaml)")
}
