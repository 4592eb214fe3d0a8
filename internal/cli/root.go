// Package cli is the terminal front end of the attempt client.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/logger"
)

// rootOptions override the environment configuration.
type rootOptions struct {
	apiURL    string
	wsURL     string
	studentID string
	token     string
	redisURL  string
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd(config.Load()).Execute()
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "attempt",
		Short:         "Take a timed test from the terminal",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.apply(cfg)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.apiURL, "api", "", "attempt API base URL (API_BASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.wsURL, "ws", "", "realtime websocket URL (REALTIME_URL)")
	cmd.PersistentFlags().StringVar(&opts.studentID, "student", "", "student id sent as X-Student-ID (STUDENT_ID)")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "bearer token (AUTH_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.redisURL, "redis", "", "redis URL for results and cached queries (REDIS_URL)")

	newApp := func(cmd *cobra.Command) (*app, error) {
		log := logger.SetupWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		return openApp(cmd.Context(), cfg, log)
	}

	cmd.AddCommand(newTakeCmd(newApp))
	cmd.AddCommand(newTestsCmd(newApp))
	cmd.AddCommand(newResultCmd(newApp))
	return cmd
}

func (o *rootOptions) apply(cfg *config.Config) {
	if o.apiURL != "" {
		cfg.APIBaseURL = o.apiURL
	}
	if o.wsURL != "" {
		cfg.RealtimeURL = o.wsURL
	}
	if o.studentID != "" {
		cfg.StudentID = o.studentID
	}
	if o.token != "" {
		cfg.AuthToken = o.token
	}
	if o.redisURL != "" {
		cfg.RedisURL = o.redisURL
	}
}
