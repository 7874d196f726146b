/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"ec2herd/internal/config"
	"ec2herd/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sampleOutput string

// sampleCmd represents the sample command
var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Create a sample configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.WriteSample(sampleOutput); err != nil {
			logging.Logger().Fatal("Failed to write sample config", zap.Error(err))
		}
		fmt.Printf("Sample configuration file %q created\n", sampleOutput)
	},
}

func init() {
	rootCmd.AddCommand(sampleCmd)

	sampleCmd.Flags().StringVarP(&sampleOutput, "output", "o", "ec2herd.yaml", "Where to write the sample config")
}
