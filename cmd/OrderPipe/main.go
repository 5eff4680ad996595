package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/BTreeMap/OrderPipe/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "OrderPipe",
		Short:         "OrderPipe - conversational ordering over WhatsApp and SMS",
		Long:          "OrderPipe verifies customers by phone or tax id, turns free-text orders into validated line items and records them once the customer confirms.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML or .env config file (environment variables still win)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newSeedCmd(&configPath))
	cmd.AddCommand(newExportProductsCmd(&configPath))
	cmd.AddCommand(newBackupCmd(&configPath))
	cmd.AddCommand(newOrderStatusCmd(&configPath))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "OrderPipe %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// loadConfig reads .env into the process environment, loads the configuration
// and installs the default logger on the command's error stream.
func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("loadConfig: no .env file loaded", "error", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	slog.Debug("loadConfig: configuration loaded",
		"state_dir", cfg.StateDir,
		"api_addr", cfg.APIAddr,
		"whatsapp_transport", cfg.WhatsAppTransport,
		"sms_transport", cfg.SMSTransport,
		"openai_key_set", cfg.OpenAIAPIKey != "")
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
