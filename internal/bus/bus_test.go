package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitFor(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var receivedMsg atomic.Pointer[domain.Message]
		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			receivedMsg.Store(msg)
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, "test.topic", []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		waitFor(t, &wg, time.Second)

		msg := receivedMsg.Load()
		if string(msg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
		}
		if msg.Topic != "test.topic" {
			t.Errorf("expected topic 'test.topic', got '%s'", msg.Topic)
		}
		if msg.ID == "" {
			t.Error("expected message id")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var completed, failed atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)

		bus.Subscribe(ctx, domain.TopicCaseCompleted, func(ctx context.Context, msg *domain.Message) error {
			completed.Add(1)
			wg.Done()
			return nil
		})
		bus.Subscribe(ctx, domain.TopicCaseFailed, func(ctx context.Context, msg *domain.Message) error {
			failed.Add(1)
			wg.Done()
			return nil
		})

		bus.Publish(ctx, domain.TopicCaseCompleted, []byte("a"))
		bus.Publish(ctx, domain.TopicCaseFailed, []byte("b"))
		waitFor(t, &wg, time.Second)

		if completed.Load() != 1 || failed.Load() != 1 {
			t.Errorf("expected one message per topic, got completed=%d failed=%d", completed.Load(), failed.Load())
		}
	})

	t.Run("FanOut", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(2)
		for i := 0; i < 2; i++ {
			bus.Subscribe(ctx, "fan.topic", func(ctx context.Context, msg *domain.Message) error {
				wg.Done()
				return nil
			})
		}
		bus.Publish(ctx, "fan.topic", []byte("x"))
		waitFor(t, &wg, time.Second)
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var received atomic.Int32
		sub, err := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			received.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		bus.Publish(ctx, "unsub.topic", []byte("x"))
		time.Sleep(20 * time.Millisecond)

		if received.Load() != 0 {
			t.Errorf("expected no messages after unsubscribe, got %d", received.Load())
		}
		bus.mu.RLock()
		_, present := bus.subscriptions["unsub.topic"]
		bus.mu.RUnlock()
		if present {
			t.Error("expected subscription removed from topic")
		}
	})

	t.Run("TraceIDInMetadata", func(t *testing.T) {
		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
		tctx := trace.ContextWithSpanContext(ctx, sc)

		msg := newMessage(tctx, "t", nil)
		if msg.Metadata["trace_id"] != traceID.String() {
			t.Errorf("expected trace id in metadata, got %q", msg.Metadata["trace_id"])
		}
		if _, ok := newMessage(ctx, "t", nil).Metadata["trace_id"]; ok {
			t.Error("expected no trace id without a span")
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	// Operations should fail after close
	if err := bus.Publish(ctx, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if _, err := bus.Subscribe(ctx, "close.topic", nil); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("KafkaRequiresBrokers", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error without brokers")
		}
	})

	t.Run("KafkaType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "kafka", KafkaBrokers: []string{"localhost:9092"}})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, ok := bus.(*KafkaBus); !ok {
			t.Error("expected KafkaBus for kafka type")
		}
		bus.Close()
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "rabbitmq"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	waitFor(t, &wg, 5*time.Second)
	if received.Load() != messageCount {
		t.Errorf("expected %d messages, got %d", messageCount, received.Load())
	}
}

// fakeKafka routes written messages to per-topic readers.
type fakeKafka struct {
	mu      sync.Mutex
	topics  map[string]chan kafka.Message
	written []kafka.Message
	closed  bool
}

func newFakeKafka() *fakeKafka {
	return &fakeKafka{topics: make(map[string]chan kafka.Message)}
}

func (f *fakeKafka) topic(name string) chan kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.topics[name]
	if !ok {
		ch = make(chan kafka.Message, 16)
		f.topics[name] = ch
	}
	return ch
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.mu.Lock()
		f.written = append(f.written, m)
		f.mu.Unlock()
		f.topic(m.Topic) <- m
	}
	return nil
}

func (f *fakeKafka) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeReader struct {
	ch     chan kafka.Message
	closed atomic.Bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.ch:
		return m, nil
	}
}

func (r *fakeReader) Close() error {
	r.closed.Store(true)
	return nil
}

func TestKafkaBus(t *testing.T) {
	cluster := newFakeKafka()
	var readers []*fakeReader
	bus := newKafkaBus([]string{"localhost:9092"}, cluster, func(topic string) messageReader {
		r := &fakeReader{ch: cluster.topic(topic)}
		readers = append(readers, r)
		return r
	})
	ctx := context.Background()

	got := make(chan *domain.Message, 1)
	sub, err := bus.Subscribe(ctx, domain.TopicCaseSubmitted, func(ctx context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(ctx, domain.TopicCaseSubmitted, []byte(`{"caseId":"dsp_1"}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-got:
		if string(msg.Payload) != `{"caseId":"dsp_1"}` {
			t.Errorf("unexpected payload %s", msg.Payload)
		}
		if msg.Topic != domain.TopicCaseSubmitted {
			t.Errorf("unexpected topic %s", msg.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for kafka message")
	}

	cluster.mu.Lock()
	written := cluster.written[0]
	cluster.mu.Unlock()
	if written.Topic != domain.TopicCaseSubmitted || len(written.Key) == 0 {
		t.Errorf("expected keyed write to the case topic, got topic=%q key=%q", written.Topic, written.Key)
	}

	// Undecodable messages are skipped without stopping the consumer.
	cluster.topic(domain.TopicCaseSubmitted) <- kafka.Message{Topic: domain.TopicCaseSubmitted, Value: []byte("not json")}
	bus.Publish(ctx, domain.TopicCaseSubmitted, []byte("second"))
	select {
	case msg := <-got:
		if string(msg.Payload) != "second" {
			t.Errorf("expected second message, got %s", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer stopped after a bad message")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if !readers[0].closed.Load() {
		t.Error("expected reader closed on unsubscribe")
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !cluster.closed {
		t.Error("expected writer closed")
	}
	if err := bus.Publish(ctx, "x", nil); err == nil {
		t.Error("expected publish error after close")
	}
}
