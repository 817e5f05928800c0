package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Routing struct {
	RealtimeSuffixes []string `yaml:"realtime_suffixes"`
	DelayedSuffixes  []string `yaml:"delayed_suffixes"`
	CryptoSuffixes   []string `yaml:"crypto_suffixes"`
}

type ProviderHTTP struct {
	BaseURL        string `yaml:"base_url"`
	CredentialEnv  string `yaml:"credential_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Resilient      bool   `yaml:"resilient"`
	Fallback       bool   `yaml:"fallback"`
	// Delayed-provider only: global calls-per-minute budget for the free tier.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

type Providers struct {
	Delayed  ProviderHTTP `yaml:"delayed"`
	Realtime ProviderHTTP `yaml:"realtime"`
	Crypto   ProviderHTTP `yaml:"crypto"`
}

type Synthetic struct {
	BasePrice  float64 `yaml:"base_price"`
	Volatility float64 `yaml:"volatility"`
	Drift      float64 `yaml:"drift"`
	FloorPrice float64 `yaml:"floor_price"`
}

type Resilience struct {
	FailureThreshold    int `yaml:"failure_threshold"`
	OpenDurationSeconds int `yaml:"open_duration_seconds"`
	MaxRetries          int `yaml:"max_retries"`
	BackoffBaseMs       int `yaml:"backoff_base_ms"`
	BackoffMaxMs        int `yaml:"backoff_max_ms"`
}

type Scheduler struct {
	TickIntervalSeconds int    `yaml:"tick_interval_seconds"`
	BatchSize           int    `yaml:"batch_size"`
	MaxConcurrentFetch  int    `yaml:"max_concurrent_fetch"`
	ZeroPricePolicy     string `yaml:"zero_price_policy"` // publish_warn | suppress | fallback
}

type Publisher struct {
	Kind        string `yaml:"kind"` // redis | file | noop
	RedisAddr   string `yaml:"redis_addr"`
	TopicPrefix string `yaml:"topic_prefix"`
	Stream      string `yaml:"stream"`
	FilePath    string `yaml:"file_path"`
}

type Root struct {
	HTTPListen string     `yaml:"http_listen"`
	LogLevel   string     `yaml:"log_level"`
	LogConsole bool       `yaml:"log_console"`
	Routing    Routing    `yaml:"routing"`
	Providers  Providers  `yaml:"providers"`
	Synthetic  Synthetic  `yaml:"synthetic"`
	Resilience Resilience `yaml:"resilience"`
	Scheduler  Scheduler  `yaml:"scheduler"`
	Publisher  Publisher  `yaml:"publisher"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	if err := validate(&c); err != nil {
		return c, err
	}
	return c, nil
}

func applyDefaults(c *Root) {
	if c.HTTPListen == "" {
		c.HTTPListen = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Providers.Delayed.TimeoutSeconds <= 0 {
		c.Providers.Delayed.TimeoutSeconds = 10
	}
	if c.Providers.Delayed.RateLimitPerMinute <= 0 {
		c.Providers.Delayed.RateLimitPerMinute = 5 // free-tier pacing
	}
	if c.Providers.Realtime.TimeoutSeconds <= 0 {
		c.Providers.Realtime.TimeoutSeconds = 5
	}
	if c.Providers.Crypto.TimeoutSeconds <= 0 {
		c.Providers.Crypto.TimeoutSeconds = 5
	}

	if c.Synthetic.BasePrice <= 0 {
		c.Synthetic.BasePrice = 100.0
	}
	if c.Synthetic.Volatility <= 0 {
		c.Synthetic.Volatility = 0.02
	}
	if c.Synthetic.FloorPrice <= 0 {
		c.Synthetic.FloorPrice = 0.01
	}

	if c.Resilience.FailureThreshold <= 0 {
		c.Resilience.FailureThreshold = 5
	}
	if c.Resilience.OpenDurationSeconds <= 0 {
		c.Resilience.OpenDurationSeconds = 60
	}
	if c.Resilience.MaxRetries <= 0 {
		c.Resilience.MaxRetries = 3
	}
	if c.Resilience.BackoffBaseMs <= 0 {
		c.Resilience.BackoffBaseMs = 1000
	}
	if c.Resilience.BackoffMaxMs <= 0 {
		c.Resilience.BackoffMaxMs = 30000
	}

	if c.Scheduler.TickIntervalSeconds <= 0 {
		c.Scheduler.TickIntervalSeconds = 20
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 5
	}
	if c.Scheduler.MaxConcurrentFetch <= 0 {
		c.Scheduler.MaxConcurrentFetch = 16
	}
	if c.Scheduler.ZeroPricePolicy == "" {
		c.Scheduler.ZeroPricePolicy = "publish_warn"
	}

	if c.Publisher.Kind == "" {
		c.Publisher.Kind = "file"
	}
	if c.Publisher.RedisAddr == "" {
		c.Publisher.RedisAddr = "localhost:6379"
	}
	if c.Publisher.TopicPrefix == "" {
		c.Publisher.TopicPrefix = "quotes"
	}
	if c.Publisher.Stream == "" {
		c.Publisher.Stream = "quotes:stream"
	}
	if c.Publisher.FilePath == "" {
		c.Publisher.FilePath = "data/quotes.jsonl"
	}
}

func validate(c *Root) error {
	switch c.Scheduler.ZeroPricePolicy {
	case "publish_warn", "suppress", "fallback":
	default:
		return fmt.Errorf("scheduler.zero_price_policy: unknown policy %q", c.Scheduler.ZeroPricePolicy)
	}
	switch c.Publisher.Kind {
	case "redis", "file", "noop":
	default:
		return fmt.Errorf("publisher.kind: unknown sink %q", c.Publisher.Kind)
	}
	c.Routing.RealtimeSuffixes = trimList(c.Routing.RealtimeSuffixes)
	c.Routing.DelayedSuffixes = trimList(c.Routing.DelayedSuffixes)
	c.Routing.CryptoSuffixes = trimList(c.Routing.CryptoSuffixes)
	return nil
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Credential resolves a provider credential through its env indirection.
func (p ProviderHTTP) Credential() string {
	if p.CredentialEnv == "" {
		return ""
	}
	return os.Getenv(p.CredentialEnv)
}
