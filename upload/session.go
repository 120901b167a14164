package upload

import (
	"fmt"
	"sync"
)

// State is one phase of an upload run.
type State int

// Upload run states. StateSucceeded and StateFailed are terminal.
const (
	StateIdle State = iota
	StateChunking
	StateUploading
	StateFinalizing
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChunking:
		return "chunking"
	case StateUploading:
		return "uploading"
	case StateFinalizing:
		return "finalizing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// An empty file skips StateUploading and goes straight to finalizing.
var legalTransitions = map[State][]State{
	StateIdle:       {StateChunking},
	StateChunking:   {StateUploading, StateFinalizing, StateFailed},
	StateUploading:  {StateFinalizing, StateFailed},
	StateFinalizing: {StateSucceeded, StateFailed},
}

// Session is the transient state of one upload run: the chunk counts and the
// current phase. Safe for concurrent use; chunk completions arrive from
// parallel upload workers.
type Session struct {
	mu          sync.Mutex
	state       State
	totalChunks int
	completed   int
}

// NewSession creates an idle session.
func NewSession() *Session {
	return &Session{state: StateIdle}
}

// To moves the session into the next state. Transitions not in the state
// machine are rejected, terminal states are sticky.
func (s *Session) To(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range legalTransitions[s.state] {
		if next == allowed {
			s.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal session transition: %s -> %s", s.state, next)
}

// SetTotalChunks records the chunk plan size. Allowed once, before uploading.
func (s *Session) SetTotalChunks(total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalChunks != 0 {
		return fmt.Errorf("total chunk count is already set to %d", s.totalChunks)
	}
	if total < 0 {
		return fmt.Errorf("total chunk count must not be negative, got %d", total)
	}
	s.totalChunks = total
	return nil
}

// ChunkDone records one successful chunk upload. The completed count only
// increases and never exceeds the total.
func (s *Session) ChunkDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUploading {
		return fmt.Errorf("chunk completion recorded in state %s", s.state)
	}
	if s.completed == s.totalChunks {
		return fmt.Errorf("all %d chunks are already recorded as completed", s.totalChunks)
	}
	s.completed++
	return nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Completed returns the number of successfully uploaded chunks so far.
func (s *Session) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// TotalChunks returns the chunk plan size.
func (s *Session) TotalChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalChunks
}

// Terminal reports whether the run has resolved.
func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateSucceeded || s.state == StateFailed
}
