package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

type options struct {
	server     string
	configPath string
	json       bool
	timeout    time.Duration
}

func (o *options) client() *apiClient {
	return newAPIClient(o.server, o.timeout)
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "auditctl",
		Short:         "Submit and inspect website audits",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	server := os.Getenv("AUDITCTL_SERVER")
	if server == "" {
		server = defaultServer
	}
	configPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/api-service/config.yaml"
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", server, "Audit API base URL")
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", configPath, "Configuration file for run and migrate")
	rootCmd.PersistentFlags().BoolVar(&opts.json, "json", false, "Print raw JSON")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "HTTP request timeout")

	rootCmd.AddCommand(newSubmitCommand(opts))
	rootCmd.AddCommand(newGetCommand(opts))
	rootCmd.AddCommand(newRecentCommand(opts))
	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newMigrateCommand(opts))

	return rootCmd
}
