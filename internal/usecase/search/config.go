package search

import (
	"fmt"
	"time"
)

// Order is the secondary ranking used when no search term is given.
type Order string

// Supported secondary orders.
const (
	OrderID      Order = "id"
	OrderRecency Order = "recency"
)

// Defaults for Config.
const (
	DefaultOversample     = 3
	DefaultMaxK           = 2000
	DefaultMaxWidenRounds = 4
)

// Config tunes the hybrid query engine.
type Config struct {
	// Oversample multiplies the requested window before the candidate-ratio boost.
	Oversample int
	// MaxK is the hard ceiling on neighbors requested from the index.
	MaxK int
	// MaxWidenRounds bounds the number of index searches per query.
	MaxWidenRounds int
	Order          Order
	// Timeout applies when the caller's context carries no deadline. Zero disables it.
	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Oversample <= 0 {
		c.Oversample = DefaultOversample
	}
	if c.MaxK <= 0 {
		c.MaxK = DefaultMaxK
	}
	if c.MaxWidenRounds <= 0 {
		c.MaxWidenRounds = DefaultMaxWidenRounds
	}
	if c.Order == "" {
		c.Order = OrderID
	}
}

func (c *Config) validate() error {
	if c.Order != OrderID && c.Order != OrderRecency {
		return fmt.Errorf("unknown secondary order %q", c.Order)
	}
	return nil
}
