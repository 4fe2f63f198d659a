package async

// Status is the outcome of one non-blocking step.
type Status int

const (
	// NeedMore means the step would block. Interest has been armed and the
	// step should be retried once the descriptor is ready.
	NeedMore Status = iota

	// Complete means the step produced its result.
	Complete

	// Error means the step failed. The error kind is returned alongside.
	Error
)

func (s Status) String() string {
	switch s {
	case NeedMore:
		return "need-more"
	case Complete:
		return "complete"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}
