package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Envelope is the inbound event body after structural checks. Payload and
// Timestamp stay loosely typed until normalization.
type Envelope struct {
	Type         string `validate:"max=255"`
	OriginModule string `validate:"max=128"`
	Payload      any
	Timestamp    any
}

// DecodeEnvelope checks that body is a JSON object whose type and
// originModule, when present, are bounded strings.
func DecodeEnvelope(v *validator.Validate, body []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return Envelope{}, schemaError("body must be a JSON object")
	}
	if dec.More() {
		return Envelope{}, schemaError("body must contain a single JSON object")
	}

	var (
		env     Envelope
		details []string
	)
	if raw, ok := fields["type"]; ok && raw != nil {
		s, isString := raw.(string)
		if !isString {
			details = append(details, "type: must be a string")
		}
		env.Type = s
	}
	if raw, ok := fields["originModule"]; ok && raw != nil {
		s, isString := raw.(string)
		if !isString {
			details = append(details, "originModule: must be a string")
		}
		env.OriginModule = s
	}
	env.Payload = fields["payload"]
	env.Timestamp = fields["timestamp"]

	if err := v.Struct(env); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Envelope{}, fmt.Errorf("ingest: validate envelope: %w", err)
		}
		for _, fe := range verrs {
			details = append(details, fmt.Sprintf("%s: failed %s=%s", jsonName(fe.Field()), fe.Tag(), fe.Param()))
		}
	}
	if len(details) > 0 {
		return Envelope{}, &ValidationError{Reason: ReasonSchema, Details: details}
	}
	return env, nil
}

func schemaError(detail string) error {
	return &ValidationError{Reason: ReasonSchema, Details: []string{detail}}
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
