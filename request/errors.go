package request

// Error is the type of the errors produced by the coordinator itself, as
// opposed to errors reported by the backend
type Error string

func (err Error) Error() string {
	return string(err)
}

// Errors returned by Coordinator.Call
const (
	ErrNotConnected Error = "not connected"
	ErrTimeout      Error = "timeout"
	ErrNotAdmin     Error = "allowed only in admin"
	ErrNotSupported Error = "not supported"
)
