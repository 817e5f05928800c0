package publisher

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/LeonAdeoye/market-service/internal/observ"
	"github.com/LeonAdeoye/market-service/internal/quotes"
)

// Publisher normalizes quote records into wire payloads and hands them to the
// bus sink. It never returns an error to the caller: a publish that cannot be
// delivered is dropped with an error log so a broken bus can't stall the
// fetch cycle.
type Publisher struct {
	sink   Sink
	prefix string

	mu        sync.Mutex
	connected bool
	topics    map[string]string // instrument -> derived topic
	lastErr   string

	published atomic.Int64
	dropped   atomic.Int64
}

func New(sink Sink, topicPrefix string) *Publisher {
	if topicPrefix == "" {
		topicPrefix = "quotes"
	}
	return &Publisher{
		sink:   sink,
		prefix: topicPrefix,
		topics: make(map[string]string),
	}
}

// Publish sends one quote downstream, lazily (re)connecting the sink.
func (p *Publisher) Publish(ctx context.Context, q *quotes.Quote) {
	payload, err := json.Marshal(q)
	if err != nil {
		p.drop(q.Instrument, err)
		return
	}
	topic := p.Topic(q.Instrument)

	if !p.ensureConnected(ctx) {
		p.drop(q.Instrument, nil)
		return
	}

	if err := p.sink.Publish(ctx, topic, payload); err != nil {
		p.mu.Lock()
		p.connected = false
		p.lastErr = err.Error()
		p.mu.Unlock()
		p.drop(q.Instrument, err)
		return
	}

	p.published.Add(1)
	observ.IncCounter("quotes_published_total", map[string]string{"source": string(q.Source)})
}

// Topic derives the bus destination for an instrument: configured prefix plus
// the id with disallowed characters replaced. Cached per id.
func (p *Publisher) Topic(instrument string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[instrument]; ok {
		return t
	}
	t := p.prefix + "." + sanitizeTopic(instrument)
	p.topics[instrument] = t
	return t
}

func sanitizeTopic(instrument string) string {
	var b strings.Builder
	b.Grow(len(instrument))
	for _, r := range instrument {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (p *Publisher) ensureConnected(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return true
	}
	if err := p.sink.Connect(ctx); err != nil {
		p.lastErr = err.Error()
		observ.Error("publisher_connect_failed", map[string]any{
			"sink":  p.sink.Name(),
			"error": err.Error(),
		})
		return false
	}
	p.connected = true
	p.lastErr = ""
	observ.Log("publisher_connected", map[string]any{"sink": p.sink.Name()})
	return true
}

func (p *Publisher) drop(instrument string, err error) {
	p.dropped.Add(1)
	kv := map[string]any{"instrument": instrument}
	if err != nil {
		kv["error"] = err.Error()
	}
	observ.Error("publish_dropped", kv)
	observ.IncCounter("quotes_publish_dropped_total", nil)
}

// IsConnected reports whether the sink connection is currently established.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// ConnectionStatus is the read-only introspection view for health reporting.
type ConnectionStatus struct {
	Sink      string `json:"sink"`
	Connected bool   `json:"connected"`
	Published int64  `json:"published"`
	Dropped   int64  `json:"dropped"`
	LastError string `json:"last_error,omitempty"`
}

func (p *Publisher) ConnectionStatus() ConnectionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ConnectionStatus{
		Sink:      p.sink.Name(),
		Connected: p.connected,
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		LastError: p.lastErr,
	}
}

// Close shuts the sink down.
func (p *Publisher) Close() error {
	return p.sink.Close()
}
