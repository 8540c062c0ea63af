// Package config holds worker configuration and job definitions.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config tunes the async execution controller.
type Config struct {
	// BatchSize is the number of buffered requests that triggers a batched
	// state execution.
	BatchSize int `validate:"required,min=1"`

	// BufferTimeout bounds how long a request may sit in a non-full active
	// buffer before a batch is forced.
	BufferTimeout time.Duration `validate:"required,gt=0"`

	// MaxInFlightRecords bounds admitted records for backpressure.
	MaxInFlightRecords int `validate:"required,min=1"`

	// MaxParallelism fixes the key group space; it must stay stable across
	// restarts for state to remain addressable.
	MaxParallelism int `validate:"required,min=1"`
}

func Default() Config {
	return Config{
		BatchSize:          1000,
		BufferTimeout:      time.Second,
		MaxInFlightRecords: 6000,
		MaxParallelism:     128,
	}
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid controller config: %w", err)
	}

	return nil
}
