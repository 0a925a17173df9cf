package sdspi

import (
	"io/ioutil"
	"time"

	"github.com/sirupsen/logrus"
)

// Config contains the timeouts of the busy waits. A timeout is a hard failure, there are no retries.
type Config struct {
	InitTimeout  time.Duration `yaml:"init_timeout"`
	EraseTimeout time.Duration `yaml:"erase_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns the timeouts recommended for SD cards.
func DefaultConfig() Config {
	return Config{
		InitTimeout:  2000 * time.Millisecond,
		EraseTimeout: 10000 * time.Millisecond,
		ReadTimeout:  300 * time.Millisecond,
		WriteTimeout: 600 * time.Millisecond,
	}
}

// withDefaults replaces unset timeouts by the defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InitTimeout <= 0 {
		c.InitTimeout = def.InitTimeout
	}
	if c.EraseTimeout <= 0 {
		c.EraseTimeout = def.EraseTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	return c
}

// Option configures a Card.
type Option func(c *Card)

// WithConfig sets the timeouts.
func WithConfig(cfg Config) Option {
	return func(c *Card) {
		c.cfg = cfg.withDefaults()
	}
}

// WithLogger sets the logger for debug output.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Card) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock replaces time.Now for measuring timeouts.
func WithClock(now func() time.Time) Option {
	return func(c *Card) {
		if now != nil {
			c.now = now
		}
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = ioutil.Discard
	return l
}
