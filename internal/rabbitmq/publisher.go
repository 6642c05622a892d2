package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/internal/metrics"
	"github.com/Checker-Finance/arbgraph/pkg/breaker"
	"github.com/Checker-Finance/arbgraph/pkg/eventbus"
	"github.com/Checker-Finance/arbgraph/pkg/model"
)

const sinkName = "rabbitmq"

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Options configure the instruction queue.
type Options struct {
	Queue   string
	TTL     time.Duration // per-message expiration; zero keeps messages until consumed
	AppID   string
	Breaker breaker.Settings
}

// Publisher publishes forwarded instructions to a RabbitMQ queue
type Publisher struct {
	conn    *amqp.Connection
	channel Channel
	opts    Options
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewPublisher dials url and declares the instruction queue.
func NewPublisher(url string, opts Options, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := NewWithChannel(channel, opts, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewWithChannel declares the queue on an open channel.
func NewWithChannel(ch Channel, opts Options, logger *zap.Logger) (*Publisher, error) {
	if opts.Queue == "" {
		return nil, fmt.Errorf("rabbitmq queue is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := ch.QueueDeclare(opts.Queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", opts.Queue, err)
	}
	return &Publisher{
		channel: ch,
		opts:    opts,
		cb:      breaker.New("publisher.rabbitmq", opts.Breaker, logger),
		logger:  logger,
	}, nil
}

// Attach subscribes the publisher to forwarded instructions on bus.
func (p *Publisher) Attach(bus *eventbus.EventBus) {
	bus.SubscribeOrdered(model.ExecutionInstruction{}, func(event interface{}) {
		inst, ok := event.(model.ExecutionInstruction)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.PublishInstruction(ctx, inst); err != nil {
			p.logger.Warn("Dropped forwarded instruction", zap.String("instruction_id", inst.ID), zap.Error(err))
		}
	}, eventbus.DefaultQueueSize)
}

// PublishInstruction sends inst to the queue through the default exchange.
func (p *Publisher) PublishInstruction(ctx context.Context, inst model.ExecutionInstruction) error {
	if !inst.Present() {
		p.logger.Error("Received instruction without id", zap.Any("instruction", inst))
		return fmt.Errorf("instruction has no id")
	}

	body, err := json.Marshal(inst)
	if err != nil {
		p.logger.Error("Failed to marshal ExecutionInstruction", zap.Error(err))
		metrics.IncError("rabbitmq", "marshal_failed")
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    inst.ID,
		Type:         inst.Type.String(),
		AppId:        p.opts.AppID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if p.opts.TTL > 0 {
		msg.Expiration = strconv.FormatInt(p.opts.TTL.Milliseconds(), 10)
	}

	start := time.Now()
	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.channel.PublishWithContext(
			ctx,
			"",           // exchange
			p.opts.Queue, // routing key
			false,        // mandatory
			false,        // immediate
			msg,
		)
	})
	metrics.ObserveDuration(metrics.SinkLatency, start, sinkName)

	if err != nil {
		result := "error"
		if breaker.Rejected(err) {
			result = "rejected"
		}
		metrics.IncSinkMessage(sinkName, result)
		p.logger.Error("Failed to publish ExecutionInstruction",
			zap.String("instruction_id", inst.ID),
			zap.String("result", result),
			zap.Error(err),
		)
		return err
	}
	metrics.IncSinkMessage(sinkName, "ok")
	return nil
}

// Close closes the publisher
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
