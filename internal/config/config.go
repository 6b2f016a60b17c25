// Package config loads the gateway's YAML configuration and fills in
// defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	gwerrors "github.com/arclight-labs/gatewaylb/internal/errors"
)

// BackendConfig describes one upstream target.
type BackendConfig struct {
	Name   string `yaml:"name"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Weight int    `yaml:"weight"`
}

// WindowLimiterConfig configures the window-based limiters (fixed window,
// sliding log, sliding counter), which all share the same two knobs.
type WindowLimiterConfig struct {
	MaxRequests int           `yaml:"maxRequests"`
	Window      time.Duration `yaml:"window"`
}

// Custom unmarshaler so the window can be written as a duration string
// ("60s") in the YAML file.
func (w *WindowLimiterConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawWindowLimiter struct {
		MaxRequests int    `yaml:"maxRequests"`
		Window      string `yaml:"window"`
	}
	raw := &rawWindowLimiter{}
	if err := unmarshal(raw); err != nil {
		return err
	}

	w.MaxRequests = raw.MaxRequests
	if raw.Window != "" {
		d, err := time.ParseDuration(raw.Window)
		if err != nil {
			return fmt.Errorf("invalid window duration: %v", err)
		}
		w.Window = d
	}
	return nil
}

// BucketLimiterConfig configures the bucket-based limiters (token bucket,
// leaky bucket).
type BucketLimiterConfig struct {
	Capacity float64 `yaml:"capacity"`
	Rate     float64 `yaml:"rate"`
}

// RateLimitConfig holds per-algorithm parameters. Unset ones take
// defaults.
type RateLimitConfig struct {
	FixedWindow     WindowLimiterConfig `yaml:"fixedWindow"`
	SlidingLog      WindowLimiterConfig `yaml:"slidingLog"`
	SlidingCounter  WindowLimiterConfig `yaml:"slidingCounter"`
	TokenBucket     BucketLimiterConfig `yaml:"tokenBucket"`
	LeakyBucket     BucketLimiterConfig `yaml:"leakyBucket"`
	DefaultAlgoName string              `yaml:"defaultAlgorithm"`
}

// CircuitBreakerConfig holds breaker parameters shared by every backend's
// breaker instance.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	MonitorWindow    time.Duration `yaml:"monitorWindow"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
	HalfOpenMax      int           `yaml:"halfOpenMax"`
}

// Custom unmarshaler to parse the breaker's duration-string fields.
func (c *CircuitBreakerConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawCircuitBreaker struct {
		FailureThreshold int    `yaml:"failureThreshold"`
		MonitorWindow    string `yaml:"monitorWindow"`
		ResetTimeout     string `yaml:"resetTimeout"`
		HalfOpenMax      int    `yaml:"halfOpenMax"`
	}
	raw := &rawCircuitBreaker{}
	if err := unmarshal(raw); err != nil {
		return err
	}

	c.FailureThreshold = raw.FailureThreshold
	c.HalfOpenMax = raw.HalfOpenMax
	if raw.MonitorWindow != "" {
		d, err := time.ParseDuration(raw.MonitorWindow)
		if err != nil {
			return fmt.Errorf("invalid monitorWindow duration: %v", err)
		}
		c.MonitorWindow = d
	}
	if raw.ResetTimeout != "" {
		d, err := time.ParseDuration(raw.ResetTimeout)
		if err != nil {
			return fmt.Errorf("invalid resetTimeout duration: %v", err)
		}
		c.ResetTimeout = d
	}
	return nil
}

// LoadBalancerConfig holds load-balancer parameters.
type LoadBalancerConfig struct {
	ConsistentHashVNodes int    `yaml:"consistentHashVNodes"`
	DefaultAlgoName      string `yaml:"defaultAlgorithm"`
}

// CORSConfig holds the headers the CORS stage emits.
type CORSConfig struct {
	AllowOrigin  string `yaml:"allowOrigin"`
	AllowMethods string `yaml:"allowMethods"`
	AllowHeaders string `yaml:"allowHeaders"`
	MaxAge       int    `yaml:"maxAge"`
}

// Config is the top-level gateway configuration.
type Config struct {
	ListenPort      int                  `yaml:"listenPort"`
	Backends        []BackendConfig      `yaml:"backends"`
	RateLimit       RateLimitConfig      `yaml:"rateLimit"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuitBreaker"`
	LoadBalancer    LoadBalancerConfig   `yaml:"loadBalancer"`
	CORS            CORSConfig           `yaml:"cors"`
	UpstreamTimeout time.Duration        `yaml:"upstreamTimeout"`
	GatewayVersion  string               `yaml:"gatewayVersion"`
}

// Custom unmarshaler so upstreamTimeout can be a duration string.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawConfig struct {
		ListenPort      int                  `yaml:"listenPort"`
		Backends        []BackendConfig      `yaml:"backends"`
		RateLimit       RateLimitConfig      `yaml:"rateLimit"`
		CircuitBreaker  CircuitBreakerConfig `yaml:"circuitBreaker"`
		LoadBalancer    LoadBalancerConfig   `yaml:"loadBalancer"`
		CORS            CORSConfig           `yaml:"cors"`
		UpstreamTimeout string               `yaml:"upstreamTimeout"`
		GatewayVersion  string               `yaml:"gatewayVersion"`
	}
	raw := &rawConfig{}
	if err := unmarshal(raw); err != nil {
		return err
	}

	c.ListenPort = raw.ListenPort
	c.Backends = raw.Backends
	c.RateLimit = raw.RateLimit
	c.CircuitBreaker = raw.CircuitBreaker
	c.LoadBalancer = raw.LoadBalancer
	c.CORS = raw.CORS
	c.GatewayVersion = raw.GatewayVersion
	if raw.UpstreamTimeout != "" {
		d, err := time.ParseDuration(raw.UpstreamTimeout)
		if err != nil {
			return fmt.Errorf("invalid upstreamTimeout duration: %v", err)
		}
		c.UpstreamTimeout = d
	}
	return nil
}

// Load reads and parses a YAML config file, applying defaults to any zero
// fields afterward.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.CodeConfigInvalid, fmt.Sprintf("failed to read config file %s", path))
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.CodeConfigInvalid, "failed to parse config file")
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a Config populated entirely from defaults, used when
// no config file is given and by tests.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Backends = []BackendConfig{
		{Name: "backend-a", Host: "127.0.0.1", Port: 9001, Weight: 3},
		{Name: "backend-b", Host: "127.0.0.1", Port: 9002, Weight: 2},
		{Name: "backend-c", Host: "127.0.0.1", Port: 9003, Weight: 1},
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.ListenPort == 0 {
		cfg.ListenPort = 4000
	}
	if cfg.GatewayVersion == "" {
		cfg.GatewayVersion = "gatewaylb/1.0"
	}
	if cfg.UpstreamTimeout == 0 {
		cfg.UpstreamTimeout = 5 * time.Second
	}

	if cfg.RateLimit.FixedWindow.MaxRequests == 0 {
		cfg.RateLimit.FixedWindow.MaxRequests = 50
	}
	if cfg.RateLimit.FixedWindow.Window == 0 {
		cfg.RateLimit.FixedWindow.Window = 60 * time.Second
	}
	if cfg.RateLimit.SlidingLog.MaxRequests == 0 {
		cfg.RateLimit.SlidingLog.MaxRequests = 50
	}
	if cfg.RateLimit.SlidingLog.Window == 0 {
		cfg.RateLimit.SlidingLog.Window = 60 * time.Second
	}
	if cfg.RateLimit.SlidingCounter.MaxRequests == 0 {
		cfg.RateLimit.SlidingCounter.MaxRequests = 50
	}
	if cfg.RateLimit.SlidingCounter.Window == 0 {
		cfg.RateLimit.SlidingCounter.Window = 60 * time.Second
	}
	if cfg.RateLimit.TokenBucket.Capacity == 0 {
		cfg.RateLimit.TokenBucket.Capacity = 20
	}
	if cfg.RateLimit.TokenBucket.Rate == 0 {
		cfg.RateLimit.TokenBucket.Rate = 5
	}
	if cfg.RateLimit.LeakyBucket.Capacity == 0 {
		cfg.RateLimit.LeakyBucket.Capacity = 20
	}
	if cfg.RateLimit.LeakyBucket.Rate == 0 {
		cfg.RateLimit.LeakyBucket.Rate = 5
	}
	if cfg.RateLimit.DefaultAlgoName == "" {
		cfg.RateLimit.DefaultAlgoName = "token-bucket"
	}

	if cfg.CircuitBreaker.FailureThreshold == 0 {
		cfg.CircuitBreaker.FailureThreshold = 3
	}
	if cfg.CircuitBreaker.MonitorWindow == 0 {
		cfg.CircuitBreaker.MonitorWindow = 10 * time.Second
	}
	if cfg.CircuitBreaker.ResetTimeout == 0 {
		cfg.CircuitBreaker.ResetTimeout = 15 * time.Second
	}
	if cfg.CircuitBreaker.HalfOpenMax == 0 {
		cfg.CircuitBreaker.HalfOpenMax = 1
	}

	if cfg.LoadBalancer.ConsistentHashVNodes == 0 {
		cfg.LoadBalancer.ConsistentHashVNodes = 150
	}
	if cfg.LoadBalancer.DefaultAlgoName == "" {
		cfg.LoadBalancer.DefaultAlgoName = "round-robin"
	}

	if cfg.CORS.AllowOrigin == "" {
		cfg.CORS.AllowOrigin = "*"
	}
	if cfg.CORS.AllowMethods == "" {
		cfg.CORS.AllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	if cfg.CORS.AllowHeaders == "" {
		cfg.CORS.AllowHeaders = "Content-Type, Authorization"
	}
	if cfg.CORS.MaxAge == 0 {
		cfg.CORS.MaxAge = 86400
	}
}
