package storage

import (
	"context"
	"fmt"

	"github.com/dennisdiepolder/monti/supportdesk/internal/config"
	"github.com/dennisdiepolder/monti/supportdesk/internal/metrics"
	"github.com/rs/zerolog"
)

// Runner is implemented by backends with a background loop, such as a
// realtime socket or a LISTEN connection
type Runner interface {
	Run(ctx context.Context)
}

// NewBackend creates the backend selected by STORAGE_MODE. Backends with a
// change feed of their own implement Runner; the caller starts it.
func NewBackend(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) (Backend, error) {
	switch cfg.StorageMode {
	case config.StorageREST:
		b := NewPostgRESTBackend(cfg.SupabaseURL, cfg.SupabaseKey, cfg.HTTPTimeout, logger)
		if cfg.RealtimeMode == config.RealtimeWebSocket {
			b.AttachRealtime(NewRealtimeClient(cfg.SupabaseURL, cfg.SupabaseKey, b.Bus(), m, logger))
		}
		logger.Info().Str("url", cfg.SupabaseURL).Str("realtime", string(cfg.RealtimeMode)).Msg("using PostgREST backend")
		return b, nil

	case config.StoragePostgres:
		b, err := NewPostgresBackend(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := CreateTablesIfNotExist(ctx, b.Pool(), logger); err != nil {
				b.Close()
				return nil, err
			}
		}
		return &postgresRunner{PostgresBackend: b, listen: cfg.RealtimeMode != config.RealtimeNone}, nil

	case config.StorageMemory:
		logger.Warn().Msg("using in-memory backend, data is lost on restart")
		return NewMemoryBackend(), nil
	}

	return nil, fmt.Errorf("unsupported storage mode %q", cfg.StorageMode)
}

// Run starts the realtime socket when one is attached
func (b *PostgRESTBackend) Run(ctx context.Context) {
	if b.realtime != nil {
		b.realtime.Run(ctx)
	}
}

// postgresRunner skips LISTEN when realtime is disabled
type postgresRunner struct {
	*PostgresBackend
	listen bool
}

func (p *postgresRunner) Run(ctx context.Context) {
	if p.listen {
		p.PostgresBackend.Run(ctx)
	}
}
