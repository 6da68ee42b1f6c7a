package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no event exists for the provided identifier.
	ErrNotFound = errors.New("event: not found")
	// ErrInvalidStatus is returned by ParseStatus for values outside the status enum.
	ErrInvalidStatus = errors.New("event: invalid status")
)

// Status is the delivery state of an event towards Core.
type Status string

const (
	StatusReceived  Status = "RECEIVED"
	StatusDelivered Status = "DELIVERED"
)

// ParseStatus accepts RECEIVED or DELIVERED in any letter case.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusReceived:
		return StatusReceived, nil
	case StatusDelivered:
		return StatusDelivered, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// Event is a unit of information submitted by an upstream module.
type Event struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload"`
	Timestamp    time.Time      `json:"timestamp"`
	OriginModule string         `json:"originModule"`
	Status       Status         `json:"status"`
}

// New builds a RECEIVED event with a fresh identifier. A nil payload becomes
// an empty object and a zero timestamp becomes now.
func New(eventType string, payload map[string]any, ts time.Time, origin string, now time.Time) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	if ts.IsZero() {
		ts = now
	}
	return Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		Payload:      payload,
		Timestamp:    ts.UTC(),
		OriginModule: origin,
		Status:       StatusReceived,
	}
}

// Signature is the lowercase hex SHA-256 of
// type|payloadJSON|epochMillis|originModule. encoding/json sorts map keys, so
// logically equal payloads produce the same digest.
func (e Event) Signature() string {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}

	var b strings.Builder
	b.WriteString(e.Type)
	b.WriteByte('|')
	b.Write(raw)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(e.Timestamp.UnixMilli(), 10))
	b.WriteByte('|')
	b.WriteString(e.OriginModule)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
