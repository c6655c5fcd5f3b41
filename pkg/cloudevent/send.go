package cloudevent

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher delivers CloudEvents to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, event *CloudEvent) error
}

// Conn is the subset of *nats.Conn used by NATSPublisher.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// NATSPublisher publishes CloudEvents in structured mode over NATS, carrying
// the core attributes as ce- headers as well.
type NATSPublisher struct {
	conn       Conn
	signingKey string
}

// NewNATSPublisher creates a publisher over conn. A non-empty signingKey adds
// an HMAC-SHA256 signature header to every message.
func NewNATSPublisher(conn Conn, signingKey string) *NATSPublisher {
	return &NATSPublisher{conn: conn, signingKey: signingKey}
}

// Publish marshals the event and waits for the server to acknowledge the flush.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, event *CloudEvent) error {
	if err := event.Validate(); err != nil {
		return &PermanentError{Err: fmt.Errorf("invalid event: %w", err)}
	}
	body, err := json.Marshal(event)
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("failed to marshal event: %w", err)}
	}

	msg := nats.NewMsg(subject)
	msg.Data = body
	msg.Header.Set("Content-Type", "application/cloudevents+json")
	msg.Header.Set("ce-specversion", event.SpecVersion)
	msg.Header.Set("ce-type", event.Type)
	msg.Header.Set("ce-source", event.Source)
	msg.Header.Set("ce-id", event.ID)
	msg.Header.Set("ce-time", event.Time.Format(time.RFC3339Nano))
	if event.Subject != "" {
		msg.Header.Set("ce-subject", event.Subject)
	}
	if p.signingKey != "" {
		msg.Header.Set("X-Signature-256", generateSignature(body, p.signingKey))
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		if errors.Is(err, nats.ErrBadSubject) || errors.Is(err, nats.ErrMaxPayload) {
			return &PermanentError{Err: err}
		}
		return fmt.Errorf("publish failed: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	return nil
}

// Sign computes HMAC-SHA256 signature for a CloudEvent.
func Sign(event *CloudEvent, key string) (string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}
	return generateSignature(body, key), nil
}

// generateSignature generates HMAC-SHA256 signature.
func generateSignature(payload []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// PermanentError marks a publish failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent returns true for failures that shouldn't be retried.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
