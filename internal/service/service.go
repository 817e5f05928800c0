package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeonAdeoye/market-service/internal/observ"
	"github.com/LeonAdeoye/market-service/internal/publisher"
	"github.com/LeonAdeoye/market-service/internal/quotes"
	"github.com/LeonAdeoye/market-service/internal/registry"
	"github.com/LeonAdeoye/market-service/internal/resilience"
	"github.com/LeonAdeoye/market-service/internal/routing"
	"github.com/LeonAdeoye/market-service/internal/scheduler"
	"github.com/LeonAdeoye/market-service/internal/throttle"
)

// Service is the inbound API facade over the subscription registry and the
// pipeline's introspection surfaces.
type Service struct {
	reg       *registry.Registry
	gate      *throttle.Gate
	rules     routing.Rules
	synthetic *quotes.SyntheticAdapter
	sched     *scheduler.Scheduler
	breakers  *resilience.BreakerSet
	pub       *publisher.Publisher
	now       func() time.Time
}

func New(reg *registry.Registry, gate *throttle.Gate, rules routing.Rules,
	synthetic *quotes.SyntheticAdapter, sched *scheduler.Scheduler,
	breakers *resilience.BreakerSet, pub *publisher.Publisher) *Service {
	return &Service{
		reg:       reg,
		gate:      gate,
		rules:     rules,
		synthetic: synthetic,
		sched:     sched,
		breakers:  breakers,
		pub:       pub,
		now:       time.Now,
	}
}

type SubscribeRequest struct {
	Instruments     []string `json:"instruments"`
	GroupID         string   `json:"group_id,omitempty"`
	Provider        string   `json:"provider,omitempty"` // "auto" (default) or explicit source
	ThrottleSeconds int      `json:"throttle_seconds,omitempty"`
	Granularities   []string `json:"granularities,omitempty"`
}

type SubscribeResponse struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	GroupID  string   `json:"group_id"`
	Accepted []string `json:"accepted"`
}

// Subscribe upserts a subscription per instrument. Each id resolves its
// provider independently; a resolution failure skips that id rather than
// aborting the batch, and the response reports the partial outcome.
// Request-level problems (bad throttle, unknown provider name) reject the
// whole request before any id is touched.
func (s *Service) Subscribe(req SubscribeRequest) (SubscribeResponse, error) {
	if len(req.Instruments) == 0 {
		return SubscribeResponse{}, fmt.Errorf("no instruments in request")
	}
	if req.ThrottleSeconds != 0 {
		if err := throttle.ValidateInterval(req.ThrottleSeconds); err != nil {
			return SubscribeResponse{}, err
		}
	}
	override, err := parseProvider(req.Provider)
	if err != nil {
		return SubscribeResponse{}, err
	}

	groupID := strings.TrimSpace(req.GroupID)
	if groupID == "" {
		groupID = uuid.NewString()
	}

	accepted := make([]string, 0, len(req.Instruments))
	for _, raw := range req.Instruments {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}

		src := override
		if src == "" {
			resolved, err := routing.DetermineProvider(id, s.rules)
			if err != nil {
				observ.Warn("subscribe_instrument_skipped", map[string]any{
					"instrument": id,
					"error":      err.Error(),
				})
				continue
			}
			src = resolved
		}

		sub := registry.Subscription{
			Instrument:      id,
			GroupID:         groupID,
			IntervalSeconds: req.ThrottleSeconds,
			Granularities:   req.Granularities,
			CreatedAt:       s.now(),
		}
		if req.Provider != "" && !strings.EqualFold(req.Provider, "auto") {
			sub.Source = src
		}
		s.reg.Upsert(sub)
		if req.ThrottleSeconds > 0 {
			// validated above; Configure cannot fail here
			_ = s.gate.Configure(id, req.ThrottleSeconds)
		}
		accepted = append(accepted, id)
	}

	resp := SubscribeResponse{
		Success:  len(accepted) > 0,
		Message:  fmt.Sprintf("subscribed %d of %d instruments", len(accepted), len(req.Instruments)),
		GroupID:  groupID,
		Accepted: accepted,
	}
	observ.Log("subscribe", map[string]any{
		"group_id":  groupID,
		"requested": len(req.Instruments),
		"accepted":  len(accepted),
	})
	return resp, nil
}

func parseProvider(name string) (quotes.SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return "", nil
	case string(quotes.SourceDelayed):
		return quotes.SourceDelayed, nil
	case string(quotes.SourceRealtime):
		return quotes.SourceRealtime, nil
	case string(quotes.SourceCrypto):
		return quotes.SourceCrypto, nil
	case string(quotes.SourceSynthetic):
		return quotes.SourceSynthetic, nil
	default:
		return "", fmt.Errorf("unknown provider %q", name)
	}
}

type UnsubscribeResponse struct {
	Instrument string `json:"instrument"`
	Removed    bool   `json:"removed"`
}

// Unsubscribe removes the subscription and every piece of per-instrument
// state that could leak into a later resubscription: the gate entry and the
// synthetic walk memory.
func (s *Service) Unsubscribe(instrument string) UnsubscribeResponse {
	removed := s.reg.Remove(instrument)
	s.gate.Remove(instrument)
	if s.synthetic != nil {
		s.synthetic.ResetPrice(instrument)
	}
	if !removed {
		observ.Log("unsubscribe_noop", map[string]any{"instrument": instrument})
	} else {
		observ.Log("unsubscribe", map[string]any{"instrument": instrument})
	}
	return UnsubscribeResponse{Instrument: instrument, Removed: removed}
}

type ListResponse struct {
	Count   int                     `json:"count"`
	Entries []registry.Subscription `json:"entries"`
}

func (s *Service) List() ListResponse {
	entries := s.reg.Snapshot()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Instrument < entries[j].Instrument })
	return ListResponse{Count: len(entries), Entries: entries}
}

type StatusResponse struct {
	SubscriptionsByProvider map[string]int                 `json:"subscriptions_by_provider"`
	UnknownProviderCount    int                            `json:"unknown_provider_count"`
	CircuitBreakers         map[string]resilience.Status   `json:"circuit_breakers"`
	RateGates               map[string]throttle.KeyStatus  `json:"rate_gates"`
	Publisher               publisher.ConnectionStatus     `json:"publisher"`
	Scheduler               scheduler.Status               `json:"scheduler"`
}

// Status partitions current subscriptions by resolved provider for reporting.
// Resolution failures during this read-only pass never propagate; such
// entries land in the unknown bucket.
func (s *Service) Status() StatusResponse {
	counts := make(map[string]int)
	unknown := 0
	for _, sub := range s.reg.Snapshot() {
		src := sub.Source
		if src == "" {
			resolved, err := routing.DetermineProvider(sub.Instrument, s.rules)
			if err != nil {
				unknown++
				continue
			}
			src = resolved
		}
		counts[string(src)]++
	}
	return StatusResponse{
		SubscriptionsByProvider: counts,
		UnknownProviderCount:    unknown,
		CircuitBreakers:         s.breakers.Summary(),
		RateGates:               s.gate.Snapshot(),
		Publisher:               s.pub.ConnectionStatus(),
		Scheduler:               s.sched.Status(),
	}
}

// UpdateFetchInterval adjusts the scheduler tick interval.
func (s *Service) UpdateFetchInterval(seconds int) error {
	return s.sched.UpdateInterval(seconds)
}
