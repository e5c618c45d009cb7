package repository

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gPlorovg/sayo-captions/internal/repository"
)

// MemoryRepository is used when DATABASE_URL is empty.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*repository.Session
	segments map[string][]repository.TranscriptSegment
	nextSeg  int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*repository.Session),
		segments: make(map[string][]repository.TranscriptSegment),
	}
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[input.ID]; exists {
		return nil, fmt.Errorf("session %s already exists", input.ID)
	}
	s := &repository.Session{
		ID:        input.ID,
		Backend:   input.Backend,
		Target:    input.Target,
		StartedAt: input.StartedAt,
		Status:    repository.SessionStatusRunning,
	}
	r.sessions[s.ID] = s
	out := *s
	return &out, nil
}

func (r *MemoryRepository) UpdateSessionCompleted(_ context.Context, input repository.CompleteSessionInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[input.SessionID]
	if !ok {
		return fmt.Errorf("session %s not found", input.SessionID)
	}
	endedAt := input.EndedAt
	s.EndedAt = &endedAt
	s.Status = repository.SessionStatusCompleted
	s.StopReason = input.StopReason
	return nil
}

func (r *MemoryRepository) ListRunningSessions(context.Context) ([]repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []repository.Session
	for _, s := range r.sessions {
		if s.Status == repository.SessionStatusRunning {
			list = append(list, *s)
		}
	}
	slices.SortFunc(list, func(a, b repository.Session) int { return a.StartedAt.Compare(b.StartedAt) })
	return list, nil
}

func (r *MemoryRepository) InsertSegment(_ context.Context, input repository.InsertSegmentInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[input.SessionID]; !ok {
		return fmt.Errorf("session %s not found", input.SessionID)
	}
	for _, seg := range r.segments[input.SessionID] {
		if seg.SegmentIndex == input.SegmentIndex {
			return fmt.Errorf("segment %d of session %s already exists", input.SegmentIndex, input.SessionID)
		}
	}
	r.nextSeg++
	r.segments[input.SessionID] = append(r.segments[input.SessionID], repository.TranscriptSegment{
		ID:           strconv.Itoa(r.nextSeg),
		SessionID:    input.SessionID,
		Content:      input.Content,
		SegmentIndex: input.SegmentIndex,
		SpokenAt:     input.SpokenAt,
		CreatedAt:    time.Now(),
	})
	return nil
}

func (r *MemoryRepository) ListSegmentsBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := slices.Clone(r.segments[sessionID])
	slices.SortFunc(list, func(a, b repository.TranscriptSegment) int { return a.SegmentIndex - b.SegmentIndex })
	return list, nil
}
