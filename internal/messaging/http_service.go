package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/juliahq/followpipe/internal/models"
)

// Constants for the HTTP gateway providers
const (
	// DefaultHTTPTimeout bounds one gateway send request.
	DefaultHTTPTimeout = 30 * time.Second
	// maxErrorBodyBytes limits how much of an error response body is logged.
	maxErrorBodyBytes = 512
)

// GatewayStyle selects the request shape of an HTTP WhatsApp gateway.
type GatewayStyle string

const (
	// GatewayStyleUazap posts {"number","text"} to {base}/send/text with a
	// "token" header.
	GatewayStyleUazap GatewayStyle = "uazap"
	// GatewayStyleEvolution posts {"number","text"} to
	// {base}/message/sendText/{instance} with an "apikey" header.
	GatewayStyleEvolution GatewayStyle = "evolution"
)

// HTTPOpts holds configuration for an HTTP gateway service.
type HTTPOpts struct {
	// BaseURL is the gateway root, without trailing slash.
	BaseURL string
	// Token authenticates requests (header name depends on style).
	Token string
	// Instance names the gateway instance (evolution style only).
	Instance string
	// Style selects the request shape. Defaults to uazap.
	Style GatewayStyle
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// HTTPOption defines a configuration option for an HTTP gateway service.
type HTTPOption func(*HTTPOpts)

// WithBaseURL sets the gateway base URL.
func WithBaseURL(url string) HTTPOption {
	return func(o *HTTPOpts) { o.BaseURL = url }
}

// WithToken sets the gateway auth token.
func WithToken(token string) HTTPOption {
	return func(o *HTTPOpts) { o.Token = token }
}

// WithInstance sets the gateway instance name (evolution style).
func WithInstance(instance string) HTTPOption {
	return func(o *HTTPOpts) { o.Instance = instance }
}

// WithGatewayStyle selects the request shape.
func WithGatewayStyle(style GatewayStyle) HTTPOption {
	return func(o *HTTPOpts) { o.Style = style }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(o *HTTPOpts) { o.Client = client }
}

// HTTPService implements Service against a plain-POST WhatsApp gateway.
type HTTPService struct {
	baseURL   string
	token     string
	instance  string
	style     GatewayStyle
	client    *http.Client
	receipts  chan models.Receipt
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool
}

// NewHTTPService creates an HTTP gateway service based on provided options.
func NewHTTPService(opts ...HTTPOption) (*HTTPService, error) {
	cfg := HTTPOpts{Style: GatewayStyleUazap}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("HTTPService config loaded", "style", cfg.Style, "BaseURL_set", cfg.BaseURL != "", "Token_set", cfg.Token != "")

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL must be provided")
	}
	if cfg.Style == GatewayStyleEvolution && cfg.Instance == "" {
		return nil, fmt.Errorf("instance name must be provided for evolution gateways")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPService{
		baseURL:   cfg.BaseURL,
		token:     cfg.Token,
		instance:  cfg.Instance,
		style:     cfg.Style,
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}, nil
}

// ValidateAndCanonicalizeRecipient strips JID suffixes and non-digits.
func (s *HTTPService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op; HTTP gateways have no event stream to poll.
func (s *HTTPService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *HTTPService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.responses)
	return nil
}

// SendMessage posts the message to the gateway and emits a sent receipt.
func (s *HTTPService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("HTTPService SendMessage validation error", "error", err, "to", to)
		return err
	}

	payload, err := json.Marshal(map[string]string{"number": canonical, "text": body})
	if err != nil {
		return fmt.Errorf("failed to encode gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sendURL(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		switch s.style {
		case GatewayStyleEvolution:
			req.Header.Set("apikey", s.token)
		default:
			req.Header.Set("token", s.token)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("HTTPService SendMessage request failed", "error", err, "to", canonical, "style", s.style)
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		slog.Error("HTTPService SendMessage gateway error", "status", resp.StatusCode, "to", canonical, "body", string(snippet))
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	s.emitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	slog.Debug("HTTPService message sent", "to", canonical, "style", s.style)
	return nil
}

// Receipts returns the channel of receipt events.
func (s *HTTPService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel of incoming responses, which HTTP gateways
// never populate.
func (s *HTTPService) Responses() <-chan models.Response {
	return s.responses
}

func (s *HTTPService) sendURL() string {
	if s.style == GatewayStyleEvolution {
		return fmt.Sprintf("%s/message/sendText/%s", s.baseURL, s.instance)
	}
	return s.baseURL + "/send/text"
}

func (s *HTTPService) emitReceipt(receipt models.Receipt) {
	// The read lock is held across the send so Stop's close cannot race an
	// in-flight emit.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
	}
}
