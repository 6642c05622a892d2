package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/internal/metrics"
	"github.com/Checker-Finance/arbgraph/pkg/breaker"
	"github.com/Checker-Finance/arbgraph/pkg/eventbus"
	"github.com/Checker-Finance/arbgraph/pkg/logger"
	"github.com/Checker-Finance/arbgraph/pkg/model"
)

const (
	InstructionSubjectPrefix = "evt.arb.instruction.v1."
	DiscoveredSubject        = "evt.arb.discovered.v1"
	CatalogSubject           = "evt.arb.catalog.refreshed.v1"

	sinkName = "nats"
)

// pathNamespace derives stable correlation ids from instruction ids.
var pathNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("arbgraph/instruction"))

// JetStream is the publishing half of nats.JetStreamContext.
type JetStream interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher wraps a JetStream context and provides helpers for publishing canonical events.
type Publisher struct {
	nc      *nats.Conn
	js      JetStream
	cb      *gobreaker.CircuitBreaker
	service string
	timeout time.Duration
	log     *zap.SugaredLogger
}

// New creates a Publisher on nc's JetStream context.
func New(nc *nats.Conn, service string, bs breaker.Settings) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	p := NewWithJetStream(js, service, bs)
	p.nc = nc
	return p, nil
}

// NewWithJetStream creates a Publisher on an existing JetStream context.
func NewWithJetStream(js JetStream, service string, bs breaker.Settings) *Publisher {
	return &Publisher{
		js:      js,
		cb:      breaker.New("publisher.nats", bs, logger.L()),
		service: service,
		timeout: 5 * time.Second,
		log:     logger.S(),
	}
}

// InstructionSubject is the subject an instruction of type t is published on.
func InstructionSubject(t model.InstructionType) string {
	return InstructionSubjectPrefix + t.String()
}

// PublishEnvelope serializes and publishes a canonical event envelope.
func (p *Publisher) PublishEnvelope(ctx context.Context, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		p.log.Errorw("publisher.marshal_failed",
			"subject", env.Topic,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: env.Topic,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	start := time.Now()
	_, err = p.cb.Execute(func() (interface{}, error) {
		return p.js.PublishMsg(msg, nats.Context(ctx), nats.MsgId(env.ID.String()))
	})
	metrics.ObserveDuration(metrics.SinkLatency, start, sinkName)

	if err != nil {
		result := "error"
		if breaker.Rejected(err) {
			result = "rejected"
		}
		p.log.Errorw("publisher.publish_failed",
			"subject", env.Topic,
			"event_type", env.EventType,
			"result", result,
			"error", err,
		)
		metrics.IncSinkMessage(sinkName, result)
		return err
	}

	p.log.Debugw("publisher.publish_success",
		"subject", env.Topic,
		"event_type", env.EventType,
	)
	metrics.IncSinkMessage(sinkName, "ok")
	return nil
}

// PublishInstruction emits an arb.instruction event on the subject for its type.
func (p *Publisher) PublishInstruction(ctx context.Context, inst model.ExecutionInstruction) error {
	payload, err := json.Marshal(inst)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return fmt.Errorf("marshal instruction %s: %w", inst.ID, err)
	}
	env := p.envelope(InstructionSubject(inst.Type), "arb.instruction", payload)
	env.CorrelationID = uuid.NewSHA1(pathNamespace, []byte(inst.ID))
	return p.PublishEnvelope(ctx, env)
}

// PublishDiscovered emits an arb.discovered event.
func (p *Publisher) PublishDiscovered(ctx context.Context, ev model.ArbDiscovered) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return fmt.Errorf("marshal arb %s: %w", ev.ArbID, err)
	}
	env := p.envelope(DiscoveredSubject, "arb.discovered", payload)
	return p.PublishEnvelope(ctx, env)
}

// Publish publishes raw JSON payloads (for non-canonical internal events).
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{"source": []string{p.service}},
	}

	start := time.Now()
	_, err = p.cb.Execute(func() (interface{}, error) {
		return p.js.PublishMsg(msg, nats.Context(ctx))
	})
	metrics.ObserveDuration(metrics.SinkLatency, start, sinkName)

	if err != nil {
		metrics.IncSinkMessage(sinkName, "error")
		return err
	}

	metrics.IncSinkMessage(sinkName, "ok")
	return nil
}

func (p *Publisher) envelope(subject, eventType string, payload json.RawMessage) *model.Envelope {
	return &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Topic:         subject,
		EventType:     eventType,
		Version:       "1.0.0",
		Source:        p.service,
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	}
}

// Attach subscribes the publisher to forwarded instructions, discoveries and catalog refreshes on bus.
// Instructions and discoveries are published one at a time in the order the graph forwarded them.
func (p *Publisher) Attach(bus *eventbus.EventBus) {
	bus.SubscribeOrdered(model.ExecutionInstruction{}, func(event interface{}) {
		inst, ok := event.(model.ExecutionInstruction)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.PublishInstruction(ctx, inst); err != nil {
			p.log.Warnw("publisher.instruction_dropped", "instruction_id", inst.ID, "error", err)
		}
	}, eventbus.DefaultQueueSize)
	bus.SubscribeOrdered(model.ArbDiscovered{}, func(event interface{}) {
		ev, ok := event.(model.ArbDiscovered)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.PublishDiscovered(ctx, ev); err != nil {
			p.log.Warnw("publisher.discovered_dropped", "arb_id", ev.ArbID, "error", err)
		}
	}, eventbus.DefaultQueueSize)
	bus.Subscribe(model.CatalogRefreshed{}, func(event interface{}) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.Publish(ctx, CatalogSubject, event); err != nil {
			p.log.Warnw("publisher.catalog_publish_failed", "error", err)
		}
	})
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}

// StreamManager is the stream half of nats.JetStreamContext.
type StreamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// EnsureStream creates the stream capturing evt.arb.> when it does not exist yet.
func EnsureStream(sm StreamManager, name string) error {
	_, err := sm.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	_, err = sm.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{"evt.arb.>"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	logger.S().Infow("publisher.stream_created", "stream", name)
	return nil
}
