package bus

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

func msg(sender, payload string) Message {
	return Message{
		SenderID:  sender,
		Payload:   json.RawMessage(payload),
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) handle(m Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestMemoryBus_DeliversToOthers(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var a, c collector
	if _, err := b.Subscribe("tab-a", a.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := b.Subscribe("tab-c", c.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := b.Publish(context.Background(), msg("tab-a", `{"n":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if a.len() != 0 {
		t.Error("sender must not receive its own message")
	}
	if c.len() != 1 {
		t.Fatalf("expected 1 message for the other tab, got %d", c.len())
	}
	if got := string(c.msgs[0].Payload); got != `{"n":1}` {
		t.Errorf("unexpected payload %s", got)
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var first, second collector
	unsubFirst, _ := b.Subscribe("one", first.handle)
	if _, err := b.Subscribe("two", second.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	unsubFirst()
	unsubFirst()

	_ = b.Publish(context.Background(), msg("three", `{}`))
	if first.len() != 0 {
		t.Error("unsubscribed handler received a message")
	}
	if second.len() != 1 {
		t.Errorf("remaining handler should still receive, got %d", second.len())
	}
}

func TestMemoryBus_Closed(t *testing.T) {
	b := NewMemoryBus()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close should be a no-op: %v", err)
	}
	if err := b.Publish(context.Background(), msg("x", `{}`)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := b.Subscribe("x", func(Message) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryBus_CanceledContext(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Publish(ctx, msg("x", `{}`)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNopBus(t *testing.T) {
	var b Bus = NopBus{}
	unsub, err := b.Subscribe("x", func(Message) { t.Error("nop bus delivered a message") })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Publish(context.Background(), msg("y", `{}`)); err != nil {
		t.Errorf("Publish: %v", err)
	}
	unsub()
	if err := b.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestMessage_JSON(t *testing.T) {
	b, err := json.Marshal(msg("tab-1", `{"k":"v"}`))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"senderId":"tab-1","payload":{"k":"v"},"timestamp":"2024-05-01T12:00:00Z"}`
	if string(b) != want {
		t.Errorf("expected %s, got %s", want, b)
	}
}

func TestRedisOptions(t *testing.T) {
	if _, err := redisOptions(RedisConfig{}); err == nil {
		t.Error("expected error without an address")
	}

	opts, err := redisOptions(RedisConfig{URL: "redis://:hunter2@localhost:6380/3"})
	if err != nil {
		t.Fatalf("redisOptions: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.DB != 3 || opts.Password != "hunter2" {
		t.Errorf("unexpected options addr=%s db=%d", opts.Addr, opts.DB)
	}
	if opts.DialTimeout != 5*time.Second {
		t.Errorf("expected default dial timeout, got %s", opts.DialTimeout)
	}

	_, err = redisOptions(RedisConfig{URL: "http://:hunter2@localhost"})
	if err == nil {
		t.Fatal("expected error for a non-redis scheme")
	}
}

// Requires a running Redis; set REDIS_ADDR to enable.
func TestRedisBus_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	channel := "cityclaims:test:" + time.Now().Format("150405.000000")
	a, err := NewRedisBus(ctx, RedisConfig{Addr: addr, Channel: channel})
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	defer a.Close()
	b, err := NewRedisBus(ctx, RedisConfig{Addr: addr, Channel: channel})
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	defer b.Close()

	got := make(chan Message, 4)
	if _, err := a.Subscribe("tab-a", func(m Message) { got <- m }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := a.Publish(ctx, msg("tab-a", `{"self":true}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Publish(ctx, msg("tab-b", `{"self":false}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case m := <-got:
		if m.SenderID != "tab-b" {
			t.Errorf("expected message from tab-b, got %s", m.SenderID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
