package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	if len(c.RetryDelays) == 0 {
		return time.Second
	}
	if attempt >= len(c.RetryDelays) {
		return c.RetryDelays[len(c.RetryDelays)-1]
	}
	return c.RetryDelays[attempt]
}

// RelayError is a non-2xx answer from the SMS relay.
type RelayError struct {
	Code       int
	Message    string
	RetryAfter int // seconds, from the Retry-After header
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("sms relay error %d: %s", e.Code, e.Message)
}

// Temporary reports whether retrying may succeed.
func (e *RelayError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// SMSConfig configures the relay client.
type SMSConfig struct {
	RelayURL      string
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	Retry         RetryConfig
	Templates     Templates
}

// SMSRelay sends patient text messages through the clinic's SMS relay, which
// accepts {to, body, sendAt, cancelSid} and answers with the provider's
// message resource. cancelSid cancels a previously scheduled message before
// the new one is queued.
type SMSRelay struct {
	url       string
	client    *http.Client
	limiter   *rate.Limiter
	retry     RetryConfig
	templates Templates
	logger    zerolog.Logger
}

type relayRequest struct {
	To        string `json:"to"`
	Body      string `json:"body"`
	SendAt    string `json:"sendAt,omitempty"`
	CancelSid string `json:"cancelSid,omitempty"`
}

type relayResponse struct {
	Sid     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// NewSMSRelay creates a relay client.
func NewSMSRelay(cfg SMSConfig, logger *zerolog.Logger) *SMSRelay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	return &SMSRelay{
		url:       cfg.RelayURL,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		retry:     cfg.Retry,
		templates: cfg.Templates,
		logger:    logger.With().Str("component", "sms").Logger(),
	}
}

// Notify implements Notifier.
func (s *SMSRelay) Notify(ctx context.Context, msg Message) (Handle, error) {
	to := msg.Appointment.Patient.Phone
	if to == "" {
		return "", ErrNoRecipient
	}

	req := relayRequest{
		To:        to,
		Body:      s.templates.Render(msg),
		CancelSid: string(msg.Previous),
	}
	if !msg.SendAt.IsZero() {
		req.SendAt = msg.SendAt.UTC().Format(time.RFC3339)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		sid, err := s.post(ctx, req)
		if err == nil {
			return Handle(sid), nil
		}
		lastErr = err

		var relayErr *RelayError
		if errors.As(err, &relayErr) && !relayErr.Temporary() {
			return "", err
		}
		if attempt == s.retry.MaxRetries {
			break
		}

		wait := s.retry.delay(attempt)
		if relayErr != nil && relayErr.RetryAfter > 0 {
			wait = time.Duration(relayErr.RetryAfter) * time.Second
		}
		s.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", wait).
			Str("appointment_id", msg.Appointment.ID).
			Err(err).
			Msg("retrying sms send")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("send sms: max retries exceeded: %w", lastErr)
}

func (s *SMSRelay) post(ctx context.Context, payload relayRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal sms request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read sms response: %w", err)
	}

	var out relayResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = out.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		relayErr := &RelayError{Code: resp.StatusCode, Message: msg}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if n, err := strconv.Atoi(ra); err == nil {
				relayErr.RetryAfter = n
			}
		}
		return "", relayErr
	}
	return out.Sid, nil
}
