package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject the backend publishes per-company
// completions on.
const DefaultSubject = "contactfinder.bulk.progress"

// NATSSource receives progress notifications from a NATS subject.
type NATSSource struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// DialNATS connects to url and returns a Source bound to subject.
func DialNATS(url, token, subject string, logger *slog.Logger) (*NATSSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if subject == "" {
		subject = DefaultSubject
	}
	opts := []nats.Option{
		nats.Name("myles"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSSource{conn: nc, subject: subject, logger: logger}, nil
}

// Subscribe implements Source. Each call opens its own NATS subscription,
// released when ctx ends.
func (s *NATSSource) Subscribe(ctx context.Context) (<-chan Notification, error) {
	hub := NewHub()
	out, _ := hub.Subscribe(ctx)

	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		n, ok := ParseNotification(msg.Data)
		if !ok {
			s.logger.Debug("ignoring malformed progress message", "subject", msg.Subject)
			return
		}
		hub.Publish(n)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.logger.Debug("subscribed", "subject", s.subject)

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return out, nil
}

// Close closes the NATS connection.
func (s *NATSSource) Close() {
	s.conn.Close()
}
