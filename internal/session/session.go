package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Record is the JSON shape persisted to the KV store at
// "session:{call_id}" (spec §6.5). It carries only the fields needed for
// cross-process observability and crash-survivability of session identity,
// never audio or transcripts.
type Record struct {
	State               string    `json:"state"`
	StartedAt           time.Time `json:"started_at"`
	LastActivityAt      time.Time `json:"last_activity_at"`
	ConsecutiveTimeouts int       `json:"consecutive_timeouts"`
}

// Session is the in-memory state machine for one call, owned exclusively
// by that call's pipeline goroutines. The zero value is not usable;
// construct with New.
type Session struct {
	mu sync.Mutex

	callID              string
	state               State
	startedAt           time.Time
	lastActivityAt      time.Time
	consecutiveTimeouts int
}

// New creates a Session in the Connected state for callID.
func New(callID string) *Session {
	now := time.Now()
	return &Session{
		callID:         callID,
		state:          Connected,
		startedAt:      now,
		lastActivityAt: now,
	}
}

// CallID returns the call's stable identifier.
func (s *Session) CallID() string {
	return s.callID
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to "to". An edge outside the state machine
// in state.go is a programming error: per spec §4.7 this aborts the
// pipeline with a logged fatal, so Transition logs at Error level and
// panics. The pipeline's top-level recover converts that panic into an
// Ended transition rather than crashing the process.
func (s *Session) Transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !IsValidTransition(s.state, to) {
		slog.Error("session: illegal state transition", "call_id", s.callID, "from", s.state, "to", to)
		panic(fmt.Sprintf("session %s: illegal transition %s -> %s", s.callID, s.state, to))
	}
	s.state = to
	s.lastActivityAt = time.Now()
	if to != Transferring {
		s.consecutiveTimeouts = resetOnActivity(to, s.consecutiveTimeouts)
	}
}

// resetOnActivity clears the silence-timeout counter whenever the call
// leaves Listening for any reason other than the silence timer itself
// incrementing it (RecordSilenceTimeout does that separately).
func resetOnActivity(to State, current int) int {
	if to == Processing || to == Speaking {
		return 0
	}
	return current
}

// RecordSilenceTimeout increments the consecutive-silence-timeout counter
// and reports whether the call should now end (two consecutive timeouts,
// per spec §4.7).
func (s *Session) RecordSilenceTimeout() (shouldEnd bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveTimeouts++
	s.lastActivityAt = time.Now()
	return s.consecutiveTimeouts >= 2
}

// Touch refreshes the activity timestamp without changing state, for the
// "at most every N seconds during activity" KV write cadence in spec §4.8.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now()
}

// Snapshot returns the Record to persist to the KV store.
func (s *Session) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Record{
		State:               s.state.String(),
		StartedAt:           s.startedAt,
		LastActivityAt:      s.lastActivityAt,
		ConsecutiveTimeouts: s.consecutiveTimeouts,
	}
}
