package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/alem-hub/class-grouper/internal/domain/student"
)

// Client sends GroupRequests to a Responder.
type Client struct {
	nc     *nats.Conn
	config Config
}

// NewClient creates a Client.
func NewClient(nc *nats.Conn, cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Client{nc: nc, config: cfg}
}

// Group sends req and waits for the reply. A reply carrying an error is
// returned as *ReplyError.
func (c *Client) Group(ctx context.Context, req GroupRequest) ([][]student.Record, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	msg := &nats.Msg{
		Subject: c.config.Subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(HeaderRequestID, uuid.NewString())
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	resp, err := c.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", c.config.Subject, err)
	}

	var reply GroupReply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if reply.Error != nil {
		return nil, reply.Error
	}
	if reply.Groups == nil {
		reply.Groups = [][]student.Record{}
	}
	return reply.Groups, nil
}
