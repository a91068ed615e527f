package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alem-hub/class-grouper/internal/application/command"
	"github.com/alem-hub/class-grouper/internal/domain/student"
	"github.com/alem-hub/class-grouper/pkg/logger"
)

const tracerName = "github.com/alem-hub/class-grouper/internal/infrastructure/messaging"

// GroupHandler runs the grouping use case.
type GroupHandler interface {
	Handle(ctx context.Context, cmd command.GroupStudentsCommand) (*command.GroupStudentsResult, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONDER
// ══════════════════════════════════════════════════════════════════════════════

// Responder answers GroupRequests on a subject. Instances share a queue
// group so each request is handled once.
type Responder struct {
	nc      *nats.Conn
	handler GroupHandler
	config  Config
	logger  *logger.Logger
	tracer  trace.Tracer

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewResponder creates a Responder. It does not subscribe until Start.
func NewResponder(nc *nats.Conn, handler GroupHandler, cfg Config, log *logger.Logger) *Responder {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Responder{
		nc:      nc,
		handler: handler,
		config:  cfg,
		logger:  log.With(logger.Component("nats_responder"), logger.String("subject", cfg.Subject)),
		tracer:  otel.Tracer(tracerName),
	}
}

// Start subscribes to the configured subject.
func (r *Responder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return fmt.Errorf("responder already started")
	}

	sub, err := r.nc.QueueSubscribe(r.config.Subject, r.config.Queue, r.handleMsg)
	if err != nil {
		return fmt.Errorf("nats: subscribe %s: %w", r.config.Subject, err)
	}
	r.sub = sub

	r.logger.Info("nats responder started", logger.String("queue", r.config.Queue))
	return nil
}

// Run starts the responder and blocks until ctx is done, then drains.
func (r *Responder) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return r.Stop()
}

// Stop drains the subscription so in-flight requests finish.
func (r *Responder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub == nil {
		return nil
	}
	err := r.sub.Drain()
	r.sub = nil

	r.logger.Info("nats responder stopped")
	return err
}

func (r *Responder) handleMsg(msg *nats.Msg) {
	start := time.Now()

	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
	ctx, span := r.tracer.Start(ctx, "grouping.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("messaging.destination.name", msg.Subject)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.config.RequestTimeout)
	defer cancel()

	requestID := msg.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := r.logger.WithRequestID(requestID)

	reply := r.process(ctx, msg.Data, requestID, log)
	if reply.Error != nil {
		span.SetStatus(codes.Error, reply.Error.Code)
	} else {
		span.SetAttributes(attribute.Int("grouping.groups", len(reply.Groups)))
	}

	if msg.Reply == "" {
		log.Warn("grouping request without reply subject dropped")
		return
	}

	data, err := json.Marshal(reply)
	if err != nil {
		log.Error("failed to encode reply", logger.Err(err))
		data, _ = json.Marshal(GroupReply{Error: &ReplyError{Code: CodeInternal, Message: "grouping failed"}})
	}

	out := &nats.Msg{Subject: msg.Reply, Data: data, Header: nats.Header{}}
	out.Header.Set(HeaderRequestID, requestID)
	if err := msg.RespondMsg(out); err != nil {
		log.Error("failed to send reply", logger.Err(err))
		return
	}

	log.Debug("grouping request answered", logger.Latency(time.Since(start)))
}

func (r *Responder) process(ctx context.Context, data []byte, requestID string, log *logger.Logger) (reply GroupReply) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("panic recovered", logger.Any("error", p))
			reply = GroupReply{Error: &ReplyError{Code: CodeInternal, Message: "grouping failed"}}
		}
	}()

	var req GroupRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn("malformed grouping request", logger.Err(err))
		return GroupReply{Error: &ReplyError{Code: CodeInvalidArgument, Message: "malformed request: " + err.Error()}}
	}

	res, err := r.handler.Handle(ctx, command.GroupStudentsCommand{
		Students:      req.Students,
		RosterID:      req.RosterID,
		GroupSize:     req.GroupSize,
		CorrelationID: requestID,
	})
	if err != nil {
		re := replyErrorFor(err)
		if re.Code == CodeInternal {
			log.Error("grouping failed", logger.Err(err))
		}
		return GroupReply{Error: re}
	}

	groups := make([][]student.Record, len(res.Groups))
	for i, g := range res.Groups {
		groups[i] = g
	}
	return GroupReply{Groups: groups}
}
