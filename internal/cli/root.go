package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nyu-mlab/gemini-proxy/internal/config"
	"github.com/nyu-mlab/gemini-proxy/internal/logging"
)

var (
	cfgFile  string
	envFile  string
	logLevel string

	// loaded in PersistentPreRunE
	cfg *config.Config
	log *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gemini-proxy",
		Short: "HTTP proxy for multi-turn Gemini chat sessions",
		Long: "gemini-proxy keeps per-user chat sessions in memory, forwards each turn to a " +
			"hosted model, rate limits send_message per user and appends every completed turn to an audit log.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}

			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				loaded.Logging.Level = logLevel
			}
			cfg = loaded

			log = logging.New(nil, cfg.Logging.Level, cfg.Logging.Format)
			zlog.Logger = log.Zerolog()
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file, ignored when missing")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newUsersCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func validateConfig(c *config.Config) error {
	issues := config.Validate(c)
	if len(issues) == 0 {
		return nil
	}
	for _, issue := range issues {
		log.Error().Str("path", issue.Path).Msg(issue.Message)
	}
	return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
}
