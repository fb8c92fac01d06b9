package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/kalambet/myles/internal/api"
	"github.com/kalambet/myles/internal/config"
	"github.com/kalambet/myles/internal/progress"
)

// Progress is a notification source together with the function that keeps
// it alive. Serve blocks until ctx ends and may be nil.
type Progress struct {
	Source progress.Source
	Serve  func(ctx context.Context) error
	// Addr is the webhook address in http mode.
	Addr string
}

// OpenProgress builds the source selected by cfg.Mode. In http mode the
// listener is bound here, so a port conflict is reported before the
// session starts.
func OpenProgress(cfg config.ProgressConfig, logger *slog.Logger) (*Progress, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Mode {
	case config.ProgressNone:
		return &Progress{Source: progress.NewHub()}, nil

	case config.ProgressNATS:
		src, err := progress.DialNATS(cfg.NATSURL, cfg.Token, cfg.NATSSubject, logger)
		if err != nil {
			return nil, err
		}
		return &Progress{
			Source: src,
			Serve: func(ctx context.Context) error {
				<-ctx.Done()
				src.Close()
				return nil
			},
		}, nil

	default:
		ln, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("progress listener on %s: %w", cfg.ListenAddr, err)
		}
		hub := progress.NewHub()
		h := api.NewProgressHandler(hub, cfg.Token)
		return &Progress{
			Source: hub,
			Addr:   ln.Addr().String(),
			Serve: func(ctx context.Context) error {
				return api.Serve(ctx, ln, h, logger)
			},
		}, nil
	}
}
