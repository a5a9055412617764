package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Server instance
type config struct {
	httpServer    *http.Server
	afterShutdown []func()
	registry      *prometheus.Registry
	timeline      Timeline
	authRate      rate.Limit
	authBurst     int
	maxBodyBytes  int64
	keepAlive     time.Duration
	secureCookie  bool
}

func defaultConfig() *config {
	return &config{
		httpServer:   &http.Server{Addr: "0.0.0.0:9000"},
		authRate:     rate.Every(2 * time.Second),
		authBurst:    10,
		maxBodyBytes: 1 << 20,
		keepAlive:    25 * time.Second,
	}
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port uint16 `env:"PORT" envDefault:"9000"`
}

// WithEnvConfig enables processing exported EnvConfig struct to acts as a source of config parameters for http.Server
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10)
	})
}

// ReadTimeout sets read timeout for http.Server
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadTimeout = d
	})
}

// RegisterAfterShutdown registers a function to call after http.Server shutdown
// f will not be called in separated goroutine
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(c *config) {
		c.afterShutdown = append(c.afterShutdown, f)
	})
}

// WithRegistry collects request metrics into reg instead of a fresh registry
func WithRegistry(reg *prometheus.Registry) Option {
	return optionFunc(func(c *config) {
		c.registry = reg
	})
}

// WithTimeline enables the timeline image endpoints
func WithTimeline(t Timeline) Option {
	return optionFunc(func(c *config) {
		c.timeline = t
	})
}

// AuthRateLimit limits sign-in and registration attempts per client address
func AuthRateLimit(r rate.Limit, burst int) Option {
	return optionFunc(func(c *config) {
		c.authRate = r
		c.authBurst = burst
	})
}

// MaxBodyBytes caps JSON request bodies
func MaxBodyBytes(n int64) Option {
	return optionFunc(func(c *config) {
		c.maxBodyBytes = n
	})
}

// StreamKeepAlive sets the interval of comment lines sent on idle event streams
func StreamKeepAlive(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.keepAlive = d
	})
}

// SecureCookie marks the session cookie Secure
func SecureCookie(secure bool) Option {
	return optionFunc(func(c *config) {
		c.secureCookie = secure
	})
}
