package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/certreq/internal/config"
	"github.com/jmcleod/certreq/internal/logger"
)

var (
	configPath string

	// Set by the root command's PersistentPreRunE.
	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "certreq",
	Short: "certreq requests and tracks TLS certificates",
	Long: `certreq is the requesting side of TLS certificate issuance. It publishes
certificate signing requests to a provider over a shared session, reconciles
them against the provider's catalog of issued certificates, and reports
certificates that are available, revoked, expiring or expired.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c
		log = logger.NewWithWriter(cmd.ErrOrStderr(), c.Log.Level, c.Log.Dev)
		slog.SetDefault(log)
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")
}
