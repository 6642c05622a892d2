package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Checker-Finance/arbgraph/pkg/breaker"
	"github.com/Checker-Finance/arbgraph/pkg/eventbus"
	"github.com/Checker-Finance/arbgraph/pkg/model"
)

// --- mock types ---

type mockJetStream struct {
	mu        sync.Mutex
	published []*nats.Msg
	fail      bool
	calls     int
}

func (m *mockJetStream) PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail {
		return nil, errors.New("mock publish error")
	}
	m.published = append(m.published, msg)
	return &nats.PubAck{Stream: "mock-stream"}, nil
}

func (m *mockJetStream) messages() []*nats.Msg {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*nats.Msg, len(m.published))
	copy(out, m.published)
	return out
}

type mockStreams struct {
	infoErr error
	added   *nats.StreamConfig
}

func (m *mockStreams) StreamInfo(string, ...nats.JSOpt) (*nats.StreamInfo, error) {
	if m.infoErr != nil {
		return nil, m.infoErr
	}
	return &nats.StreamInfo{}, nil
}

func (m *mockStreams) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	m.added = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

// --- helper ---

func newTestPublisher(fail bool) (*Publisher, *mockJetStream) {
	js := &mockJetStream{fail: fail}
	return NewWithJetStream(js, "arbgraph", breaker.Settings{Failures: 2, Cooldown: time.Hour}), js
}

func sampleInstruction() model.ExecutionInstruction {
	return model.ExecutionInstruction{
		ID:     "DA:A.BTC->A.ETH->B.BTC",
		Spread: 0.04,
		Type:   model.InstructionDirect,
		Buy:    model.ExecutionOperation{Venue: "A", Hub: "BTC", Market: "ETH", Price: 0.05, Duration: 60000},
		Sell:   model.ExecutionOperation{Venue: "B", Hub: "BTC", Market: "ETH", Price: 0.052, Duration: 60000},
	}
}

// --- tests ---

func TestPublishInstruction_Success(t *testing.T) {
	pub, js := newTestPublisher(false)
	inst := sampleInstruction()

	require.NoError(t, pub.PublishInstruction(context.Background(), inst))

	msgs := js.messages()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, "evt.arb.instruction.v1.DIRECT", msg.Subject)
	assert.Equal(t, "arb.instruction", msg.Header.Get("event_type"))
	assert.Equal(t, "arbgraph", msg.Header.Get("service"))
	assert.Equal(t, "application/json", msg.Header.Get("content_type"))

	var env model.Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, "evt.arb.instruction.v1.DIRECT", env.Topic)
	assert.Equal(t, "arbgraph", env.Source)
	assert.Equal(t, env.CorrelationID.String(), msg.Header.Get("correlation_id"))
	assert.NotEqual(t, uuid.Nil, env.ID)

	var got model.ExecutionInstruction
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, inst, got)
}

func TestPublishInstruction_CorrelationStablePerPath(t *testing.T) {
	pub, js := newTestPublisher(false)
	inst := sampleInstruction()
	require.NoError(t, pub.PublishInstruction(context.Background(), inst))
	inst.Spread = 0.05
	require.NoError(t, pub.PublishInstruction(context.Background(), inst))

	msgs := js.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, msgs[0].Header.Get("correlation_id"), msgs[1].Header.Get("correlation_id"))
}

func TestPublishInstruction_SubjectPerType(t *testing.T) {
	assert.Equal(t, "evt.arb.instruction.v1.ORIGIN_CONVERSION", InstructionSubject(model.InstructionOriginConversion))
	assert.Equal(t, "evt.arb.instruction.v1.DESTINATION_CONVERSION", InstructionSubject(model.InstructionDestinationConversion))
}

func TestPublishDiscovered(t *testing.T) {
	pub, js := newTestPublisher(false)
	ev := model.ArbDiscovered{ArbID: "SIMPLE.NONE.A.BTC.NULL.ETH->B.BTC.NULL.ETH", Type: "SIMPLE", Asset: "ETH"}

	require.NoError(t, pub.PublishDiscovered(context.Background(), ev))

	msgs := js.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, DiscoveredSubject, msgs[0].Subject)
	assert.Equal(t, "arb.discovered", msgs[0].Header.Get("event_type"))
}

func TestPublish_BreakerOpensAfterFailures(t *testing.T) {
	pub, js := newTestPublisher(true)
	inst := sampleInstruction()

	assert.Error(t, pub.PublishInstruction(context.Background(), inst))
	assert.Error(t, pub.PublishInstruction(context.Background(), inst))

	err := pub.PublishInstruction(context.Background(), inst)
	require.Error(t, err)
	assert.True(t, breaker.Rejected(err))
	assert.Equal(t, 2, js.calls, "open breaker should short-circuit")
}

func TestAttach_PublishesBusEvents(t *testing.T) {
	pub, js := newTestPublisher(false)
	bus := eventbus.New()
	pub.Attach(bus)

	bus.Publish(sampleInstruction())
	bus.Publish(model.ArbDiscovered{ArbID: "x"})
	bus.Publish(model.CatalogRefreshed{Seeded: 3})
	bus.Publish(model.SweepCompleted{})

	assert.Eventually(t, func() bool { return len(js.messages()) == 3 }, time.Second, 5*time.Millisecond)
	subjects := map[string]bool{}
	for _, m := range js.messages() {
		subjects[m.Subject] = true
	}
	assert.True(t, subjects["evt.arb.instruction.v1.DIRECT"])
	assert.True(t, subjects[DiscoveredSubject])
	assert.True(t, subjects[CatalogSubject])
}

func TestAttach_PublishesInstructionsInForwardOrder(t *testing.T) {
	pub, js := newTestPublisher(false)
	bus := eventbus.New()
	pub.Attach(bus)

	for i := 1; i <= 30; i++ {
		inst := sampleInstruction()
		inst.Spread = float64(i)
		bus.Publish(inst)
	}

	require.Eventually(t, func() bool { return len(js.messages()) == 30 }, 2*time.Second, 5*time.Millisecond)
	for i, m := range js.messages() {
		var env model.Envelope
		require.NoError(t, json.Unmarshal(m.Data, &env))
		var inst model.ExecutionInstruction
		require.NoError(t, json.Unmarshal(env.Payload, &inst))
		assert.Equal(t, float64(i+1), inst.Spread)
	}
}

func TestAttach_LogsDroppedInstruction(t *testing.T) {
	pub, _ := newTestPublisher(true)
	core, logs := observer.New(zap.WarnLevel)
	pub.log = zap.New(core).Sugar()

	bus := eventbus.New()
	pub.Attach(bus)
	bus.Publish(sampleInstruction())
	bus.Publish(model.ArbDiscovered{ArbID: "x"})

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("publisher.instruction_dropped").Len() == 1 &&
			logs.FilterMessage("publisher.discovered_dropped").Len() == 1
	}, time.Second, 5*time.Millisecond)

	entry := logs.FilterMessage("publisher.instruction_dropped").All()[0]
	assert.Equal(t, sampleInstruction().ID, entry.ContextMap()["instruction_id"])
}

func TestPublish_Raw(t *testing.T) {
	pub, js := newTestPublisher(false)

	require.NoError(t, pub.Publish(context.Background(), CatalogSubject, map[string]int{"seeded": 2}))

	msgs := js.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "arbgraph", msgs[0].Header.Get("source"))
	assert.JSONEq(t, `{"seeded":2}`, string(msgs[0].Data))
}

func TestEnsureStream(t *testing.T) {
	existing := &mockStreams{}
	require.NoError(t, EnsureStream(existing, "ARB_EVENTS"))
	assert.Nil(t, existing.added)

	missing := &mockStreams{infoErr: nats.ErrStreamNotFound}
	require.NoError(t, EnsureStream(missing, "ARB_EVENTS"))
	require.NotNil(t, missing.added)
	assert.Equal(t, "ARB_EVENTS", missing.added.Name)
	assert.Equal(t, []string{"evt.arb.>"}, missing.added.Subjects)

	broken := &mockStreams{infoErr: errors.New("timeout")}
	assert.Error(t, EnsureStream(broken, "ARB_EVENTS"))
}
