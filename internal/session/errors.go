package session

import "errors"

var (
	ErrConnectivity = errors.New("transcription service unreachable")
	ErrStreamWrite  = errors.New("stream write failed")
	ErrStreamClosed = errors.New("stream closed")
)
