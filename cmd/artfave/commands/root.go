// Package commands implements the artfave command line.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/project-AI39/artfave/internal/adapter"
	"github.com/project-AI39/artfave/internal/config"
	"github.com/project-AI39/artfave/pkg/utils"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile     string
	logLevel    string
	metricsAddr string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "artfave",
	Short: "artfave - browse a folder of images and pick favorites",
	Long: `artfave steps through the images of a folder while keeping the
neighbours of the current image preloaded in memory, and copies the ones
you like into a favorites folder.

Use "artfave [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it with a
// context cancelled on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: "+config.DefaultPath()+" if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(walkCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(favoriteCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig resolves the configuration: file, environment, then flags.
func loadConfig() (*config.Configuration, error) {
	path := cfgFile
	if path == "" {
		if def := config.DefaultPath(); def != "" {
			if _, err := os.Stat(def); err == nil {
				path = def
			}
		}
	}

	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Global.LogLevel = logLevel
	}
	if metricsAddr != "" {
		cfg.Global.MetricsAddr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Configuration) (*utils.StructuredLogger, error) {
	return utils.NewStructuredLogger(cfg.LoggerConfig(os.Stderr))
}

// startAdapter loads the configuration and starts browsing dir. The caller
// must call the returned stop function.
func startAdapter(cmd *cobra.Command, dir string, tweak func(*config.Configuration)) (*adapter.Adapter, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if tweak != nil {
		tweak(cfg)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	a, err := adapter.New(dir, cfg, logger)
	if err != nil {
		_ = logger.Close()
		return nil, nil, err
	}
	if err := a.Start(cmd.Context()); err != nil {
		_ = logger.Close()
		return nil, nil, err
	}

	stop := func() {
		if err := a.Stop(context.Background()); err != nil {
			logger.Warn("shutdown", map[string]interface{}{"error": err.Error()})
		}
		_ = logger.Close()
	}
	return a, stop, nil
}
