package audio

import "context"

type FrameBatch struct {
	Planes     [][]float32
	Frames     int
	Channels   int
	SampleRate int
}

// Source handlers run on the source's goroutine and must not block on I/O.
type Source interface {
	Subscribe(handler func(FrameBatch))
	Run(ctx context.Context) error
	Name() string
}

type ChunkSink interface {
	SendChunk(chunk []byte)
	IsRunning() bool
}
