package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/apiclient"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/querycache"
	"github.com/stemsi/exstem-attempt/internal/realtime"
	"github.com/stemsi/exstem-attempt/internal/resultstore"
)

var errStudentRequired = errors.New("a student id is required (--student or STUDENT_ID)")

// app holds the collaborators shared by every command.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	api     *apiclient.Client
	channel *realtime.Channel
	results resultstore.Store
	queries querycache.Cache
	closers []func() error
}

func openApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	if cfg.StudentID == "" {
		return nil, errStudentRequired
	}

	a := &app{cfg: cfg, log: log}

	a.api = apiclient.New(apiclient.Options{
		BaseURL:   cfg.APIBaseURL,
		StudentID: cfg.StudentID,
		AuthToken: cfg.AuthToken,
		Timeout:   cfg.HTTPTimeout,
	}, log)

	header := http.Header{}
	header.Set(apiclient.HeaderStudentID, cfg.StudentID)
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	a.channel = realtime.New(realtime.Options{
		URL:    cfg.RealtimeURL,
		Header: header,
		Reconnect: realtime.ReconnectPolicy{
			Enabled:     cfg.ReconnectEnabled,
			MaxAttempts: cfg.ReconnectMaxAttempts,
			BaseDelay:   cfg.ReconnectBaseDelay,
			MaxDelay:    cfg.ReconnectMaxDelay,
		},
	}, log)

	if cfg.RedisURL == "" {
		a.results = resultstore.NewMemory()
		a.queries = querycache.NewMemory(cfg.QueryCacheTTL)
		return a, nil
	}

	rdb, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	a.results = resultstore.NewRedis(rdb, cfg.ResultTTL)
	a.queries = querycache.NewRedis(rdb, cfg.QueryCacheTTL)
	return a, nil
}

// persistent reports whether results outlive the process.
func (a *app) persistent() bool {
	return a.cfg.RedisURL != ""
}

func (a *app) Close() {
	a.channel.Disconnect()
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.Warn().Err(err).Msg("Close failed")
		}
	}
}
