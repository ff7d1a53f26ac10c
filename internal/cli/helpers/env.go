package helpers

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/wallprof/internal/config"
	"github.com/coral-mesh/wallprof/internal/logging"
)

// Persistent flag names defined on the root command.
const (
	ConfigFlag   = "config"
	LogLevelFlag = "log-level"
)

// Env is the configuration and logger a command runs with.
type Env struct {
	Config *config.Config
	Logger zerolog.Logger
}

// LoadEnv loads the configuration selected by --config (or WALLPROF_CONFIG)
// and builds the logger, honouring a --log-level override. The logger is
// tagged with the command name as its component.
func LoadEnv(cmd *cobra.Command) (*Env, error) {
	path, _ := cmd.Flags().GetString(ConfigFlag)
	cfg, err := config.Load(config.ResolvePath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString(LogLevelFlag); level != "" {
		cfg.Logging.Level = level
	}

	logCfg := cfg.Logging.LoggerConfig()
	logCfg.Output = os.Stderr
	return &Env{
		Config: cfg,
		Logger: logging.NewWithComponent(logCfg, cmd.Name()),
	}, nil
}
