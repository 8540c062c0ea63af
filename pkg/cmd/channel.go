// Package cmd holds the shared wiring used by the worker binaries.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/asyncflow/asyncflow/pkg/channels/gochannel"
	"github.com/asyncflow/asyncflow/pkg/channels/kafka"
)

// NewChannel creates the record publisher and subscriber for a provider.
func NewChannel(provider, serviceName string, logger *slog.Logger) (message.Publisher, message.Subscriber, error) {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		return kafka.CreateChannel(watermillLogger, serviceName)
	case "gochannel":
		return gochannel.CreateChannel(watermillLogger)
	default:
		return nil, nil, fmt.Errorf("unsupported channel provider: %s", provider)
	}
}
