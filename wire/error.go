package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BackendError is an error reported by the backend in an acknowledgement.
// The payload is kept verbatim.
type BackendError struct {
	Payload json.RawMessage
}

func (err *BackendError) Error() string {
	var s string
	if json.Unmarshal(err.Payload, &s) == nil {
		return s
	}
	return string(err.Payload)
}

// IsPermissionDenied returns true if the backend refused the operation for
// lack of rights
func (err *BackendError) IsPermissionDenied() bool {
	return strings.Contains(strings.ToLower(err.Error()), "permission")
}

// AckError extracts the error from the first argument of an acknowledgement.
// Returns nil if the argument is absent, null or false.
func AckError(args []json.RawMessage) error {
	if len(args) == 0 || IsNull(args[0]) || string(args[0]) == "false" || string(args[0]) == `""` {
		return nil
	}
	return &BackendError{Payload: args[0]}
}

// PermissionError is delivered by the backend when an operation was denied
type PermissionError struct {
	Operation string `json:"operation"`
	Type      string `json:"type"`
	ID        string `json:"id"`
}

func (err *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s %s %q", err.Operation, err.Type, err.ID)
}
