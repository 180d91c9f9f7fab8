// launchdeck supervises local AI tools (Ollama, ComfyUI, Open WebUI and
// friends): it starts and stops instances, captures and classifies their
// output, and reports liveness and resource use.
//
//	launchdeck serve              run the supervisor until interrupted
//	launchdeck run Ollama         start one instance and tail its output
//	launchdeck types              list configured process types
//	launchdeck history            show past instances
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/launchdeck/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configFlag holds --config; it wins over LAUNCHDECK_CONFIG.
var configFlag string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "launchdeck",
		Short:         "Supervise local AI tools and capture their output",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config file (default $LAUNCHDECK_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newTypesCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return root
}

// getConfigPath returns the configuration file path: --config, then
// LAUNCHDECK_CONFIG, then the default.
func getConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if path := os.Getenv("LAUNCHDECK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads the configuration. A missing file at the default path
// falls back to the built-in configuration; an explicitly named file must
// exist.
func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		// Parse still applies LAUNCHDECK_* overrides.
		cfg, err = config.Parse(nil)
		if err != nil {
			return nil, "", fmt.Errorf("loading built-in config: %w", err)
		}
		return cfg, "", nil
	}
	return nil, "", fmt.Errorf("loading config: %w", err)
}
