package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/JGrubb/open-finops-pipelines-bigquery/cmd/helpers"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/config"
)

const envPrefix = "BILLING_LOADER"

const (
	exitFatal  = 1
	exitStrict = 2
)

var (
	version = "dev"

	configPath string
	logQueries bool
	logCfg     = helpers.LogConfig{}

	logger log.FieldLogger
)

var rootCmd = &cobra.Command{
	Use:           "billing-loader",
	Short:         "loads cloud billing exports into a warehouse table",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := helpers.SetCommandFlagsFromEnv(cmd, envPrefix); err != nil {
			return err
		}
		var err error
		logger, err = helpers.SetupLogger(logCfg, log.Fields{"app": "billing-loader"})
		return err
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints the billing-loader version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	// globally set time to UTC
	time.Local = time.UTC

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "billing-loader.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logCfg.Level, "log-level", log.InfoLevel.String(), "log level")
	rootCmd.PersistentFlags().BoolVar(&logCfg.FullTimestamp, "log-timestamp", true, "log full timestamp if true, otherwise log time since startup")
	rootCmd.PersistentFlags().BoolVar(&logCfg.DisableTimestamp, "disable-timestamp", false, "disable timestamp logging")
	rootCmd.PersistentFlags().BoolVar(&logQueries, "log-queries", false, "log every query sent to SQL warehouses")

	rootCmd.AddCommand(runCmd, stateCmd, manifestsCmd, versionCmd)
}

// exitError carries the process exit status of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := exitFatal
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}
		log.WithError(err).Error("billing-loader failed")
		os.Exit(code)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		logger.Debugf("configuration:\n%s", spew.Sdump(cfg.Redacted()))
	}
	return cfg, nil
}

func setupSignals() (context.Context, context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case sig := <-sigs:
			logger.Infof("got signal %s, finishing the current manifest before stopping", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigs)
	}()
	return ctx, cancel
}
