// Package messaging provides pluggable WhatsApp delivery providers behind one
// Service interface: the native Whatsmeow client, Twilio, and plain-POST HTTP
// gateways ("uazap" and "evolution" shapes).
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/juliahq/followpipe/internal/models"
)

// Constants shared by the provider implementations
const (
	// DefaultChannelBufferSize defines the buffer size for receipt and response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits is the minimum digit count of a valid recipient number
	MinPhoneDigits = 6
)

// ErrServiceStopped indicates an operation on a stopped messaging service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier according to the provider's rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming contact responses.
	Responses() <-chan models.Response
}

// canonicalizePhone strips a JID suffix and all non-digit characters, then
// validates the remaining number.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	number := recipient
	if at := strings.IndexByte(number, '@'); at >= 0 {
		number = number[:at]
	}
	canonical := phoneNumberRegex.ReplaceAllString(number, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	if canonical != recipient {
		slog.Debug("messaging canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
