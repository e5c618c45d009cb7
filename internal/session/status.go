package session

import "sync/atomic"

// Status is the connection state shown to the operator.
type Status int32

const (
	StatusUnknown Status = iota
	StatusConnecting
	StatusSuccessful
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusSuccessful:
		return "successful"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type statusValue struct {
	v atomic.Int32
}

func (s *statusValue) Load() Status {
	return Status(s.v.Load())
}

func (s *statusValue) Store(st Status) {
	s.v.Store(int32(st))
}
