// Package cli holds the configuration and logging setup shared by the commands.
// Every flag can also be given as a VIEWSYNC_ environment variable or in a
// yaml file named by --config.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "VIEWSYNC"

	FlagConfig   = "config"
	FlagLogLevel = "log-level"
)

// AddCommonFlags registers the flags every command carries.
func AddCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String(FlagConfig, "", "yaml file to read flag values from")
	cmd.Flags().String(FlagLogLevel, "info", "one of debug, info, warn, error")
}

// Bind resolves cmd's flags against the environment and the config file.
// Explicit flags win over the environment, which wins over the file.
func Bind(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	if path := v.GetString(FlagConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	return v, nil
}

// Logger builds the text logger for level and installs it as the default.
func Logger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
	slog.SetDefault(logger)
	return logger, nil
}

// Setup binds cmd's configuration and installs the logger it names.
func Setup(cmd *cobra.Command) (*viper.Viper, *slog.Logger, error) {
	v, err := Bind(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := Logger(v.GetString(FlagLogLevel))
	if err != nil {
		return nil, nil, err
	}
	return v, logger, nil
}
