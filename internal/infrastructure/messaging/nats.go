// Package messaging exposes the grouping use case over NATS request/reply.
//
// Requests and replies are JSON. W3C trace context travels in message
// headers so spans started by a caller continue in the responder.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alem-hub/class-grouper/pkg/logger"
	"github.com/alem-hub/class-grouper/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds NATS settings.
type Config struct {
	URL            string
	Subject        string
	Queue          string
	RequestTimeout time.Duration

	// ClientName is reported to the server.
	ClientName string
}

// DefaultConfig returns the default subject and queue group.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Subject:        "grouping.requests",
		Queue:          "grouper",
		RequestTimeout: 10 * time.Second,
		ClientName:     "class-grouper",
	}
}

// Connect dials NATS, retrying the first connection with backoff. Later
// disconnects are handled by the client's own reconnect loop and logged.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*nats.Conn, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("nats"))

	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logger.Err(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", logger.String("url", nc.ConnectedUrlRedacted()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []logger.Field{logger.Err(err)}
			if sub != nil {
				fields = append(fields, logger.String("subject", sub.Subject))
			}
			log.Error("nats async error", fields...)
		}),
	}

	r := retry.ConnectRetrier(func(attempt int, err error, delay time.Duration) {
		log.Warn("nats not ready, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	})

	nc, err := retry.DoWith(ctx, r, func(ctx context.Context) (*nats.Conn, error) {
		return nats.Connect(cfg.URL, opts...)
	})
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.URL, err)
	}

	log.Info("nats connected", logger.String("url", nc.ConnectedUrlRedacted()))
	return nc, nil
}
