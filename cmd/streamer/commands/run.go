package commands

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sarowar6362/streamer56/internal/observe"
)

// session runs one stream loop, with a metrics endpoint alongside it when
// metricsAddr is set. A failing metrics server stops the stream.
type session struct {
	id      string
	log     zerolog.Logger
	metrics *observe.Metrics
}

func newSession(role string) session {
	id := uuid.NewString()
	return session{
		id:      id,
		log:     log.With().Str("session", id).Str("role", role).Logger(),
		metrics: observe.Discard(),
	}
}

func (s *session) run(ctx context.Context, metricsAddr string, stream func(ctx context.Context) error) error {
	if metricsAddr == "" {
		return stream(ctx)
	}

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SessionID:      s.id,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("Metrics shutdown failed")
		}
	}()
	if s.metrics, err = observe.NewMetrics(provider.MeterProvider); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	g.Go(func() error {
		return provider.Serve(serveCtx, metricsAddr)
	})
	g.Go(func() error {
		defer stopServe()
		return stream(gctx)
	})
	return g.Wait()
}
