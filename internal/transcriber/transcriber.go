package transcriber

import "context"

// Stream is aborted in both directions when its OpenStream context is cancelled.
type Stream interface {
	Send(pcm []byte) error
	// Recv returns io.EOF once the server closes the stream cleanly.
	Recv() (string, error)
	CloseSend() error
	// Finish reports the terminal status after Recv has returned an error.
	Finish() error
}

type Service interface {
	Name() string
	Ping(ctx context.Context) (string, error)
	OpenStream(ctx context.Context) (Stream, error)
	Close() error
}
