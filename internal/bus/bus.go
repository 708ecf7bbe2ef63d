// Package bus provides event bus implementations for Harrier.
package bus

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// ErrBusClosed is returned by every call on a closed in-process bus.
var ErrBusClosed = errors.New("bus is closed")

func requireAccount(accountID string) error {
	if accountID == "" {
		return fmt.Errorf("bus: %w", domain.ErrAccountRequired)
	}
	return nil
}

// subjectToken turns an account id into one NATS subject token.
// Ids made only of letters, digits and '-' pass through unchanged. Anything else is
// hex-encoded behind a leading '_', which no plain id can contain, so distinct ids never share a subject.
func subjectToken(accountID string) string {
	for _, r := range accountID {
		if !plainTokenRune(r) {
			return "_" + hex.EncodeToString([]byte(accountID))
		}
	}
	return accountID
}

func plainTokenRune(r rune) bool {
	return r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
