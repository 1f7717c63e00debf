package helpers

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type LogConfig struct {
	Level            string
	FullTimestamp    bool
	DisableTimestamp bool
}

// SetupLogger configures the standard logrus logger and returns it with
// fields attached.
func SetupLogger(cfg LogConfig, fields log.Fields) (log.FieldLogger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger := log.WithFields(fields)
	logger.Logger.SetLevel(level)
	logger.Logger.SetFormatter(&log.TextFormatter{
		FullTimestamp:    cfg.FullTimestamp,
		DisableTimestamp: cfg.DisableTimestamp,
	})
	logger.Debugf("log level set to %s", level)
	return logger, nil
}

// SetFlagsFromEnv fills every flag not given on the command line from the
// environment variable named by EnvName, so --log-level reads
// BILLING_LOADER_LOG_LEVEL when prefix is BILLING_LOADER.
func SetFlagsFromEnv(fs *pflag.FlagSet, prefix string) (err error) {
	fs.VisitAll(func(f *pflag.Flag) {
		// Changed lives on the flag itself, so flag sets assembled by cobra
		// from a parent's flags still see values given on the command line.
		if f.Changed {
			return
		}
		key := EnvName(prefix, f.Name)
		if val := os.Getenv(key); val != "" {
			if serr := fs.Set(f.Name, val); serr != nil {
				err = fmt.Errorf("invalid value %q for %s: %v", val, key, serr)
			}
		}
	})
	return err
}

// SetCommandFlagsFromEnv applies SetFlagsFromEnv to the flags of cmd,
// including the persistent flags it inherits.
func SetCommandFlagsFromEnv(cmd *cobra.Command, prefix string) error {
	if err := SetFlagsFromEnv(cmd.InheritedFlags(), prefix); err != nil {
		return err
	}
	return SetFlagsFromEnv(cmd.LocalFlags(), prefix)
}

// EnvName is the environment variable backing flag: some-flag =>
// PREFIX_SOME_FLAG.
func EnvName(prefix, flag string) string {
	return prefix + "_" + strings.ToUpper(strings.Replace(flag, "-", "_", -1))
}
