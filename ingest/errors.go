package ingest

import "strings"

// ValidationError marks a request the caller must fix. Details is set for
// structural (schema) failures.
type ValidationError struct {
	Reason  string
	Details []string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "ingest: " + e.Reason
	}
	return "ingest: " + e.Reason + ": " + strings.Join(e.Details, "; ")
}

// ForbiddenError marks an authenticated identity that is not allow-listed.
type ForbiddenError struct {
	ClientID string
}

func (e *ForbiddenError) Error() string {
	return "ingest: module not authorized: " + e.ClientID
}

const ReasonSchema = "schema_validation_failed"
