package publisher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sink is the downstream message bus, addressed by topic string. Connect is
// lazy: the publisher calls it on first use and again after a failure.
type Sink interface {
	Name() string
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// RedisSink publishes each quote twice: PUBLISH on the per-instrument topic
// channel for live consumers, XADD on a shared stream for catch-up readers.
type RedisSink struct {
	rdb    *redis.Client
	stream string
}

func NewRedisSink(addr, stream string) *RedisSink {
	return &RedisSink{
		rdb:    redis.NewClient(&redis.Options{Addr: addr}),
		stream: stream,
	}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Connect(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisSink) Publish(ctx context.Context, topic string, payload []byte) error {
	pipe := s.rdb.Pipeline()
	pipe.Publish(ctx, topic, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"topic":   topic,
			"payload": string(payload),
		},
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisSink) Close() error { return s.rdb.Close() }

// FileSink appends one JSON line per publish. It stands in for the bus in
// environments without a live broker.
type FileSink struct {
	mu   sync.Mutex
	path string
}

type fileEntry struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Connect(context.Context) error {
	return os.MkdirAll(filepath.Dir(s.path), 0o755)
}

func (s *FileSink) Publish(_ context.Context, topic string, payload []byte) error {
	b, err := json.Marshal(fileEntry{Topic: topic, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

func (s *FileSink) Close() error { return nil }

// NoopSink discards everything. Useful for dry runs and benchmarks.
type NoopSink struct{}

func (NoopSink) Name() string                                     { return "noop" }
func (NoopSink) Connect(context.Context) error                    { return nil }
func (NoopSink) Publish(context.Context, string, []byte) error    { return nil }
func (NoopSink) Close() error                                     { return nil }
