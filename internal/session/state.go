// Package session holds the per-call state machine and its Redis-backed
// crash-survivability record.
//
// [Session] is an in-memory object owned by one call's pipeline; it is not
// itself the source of truth for anything beyond one process's lifetime.
// [RedisStore] persists a snapshot of call identity and state at each
// transition so another process can observe which calls are live and for
// how long, but the pipeline never reads state back out of it to make
// decisions.
package session

import "fmt"

// State is one step in a call's lifecycle.
type State int

const (
	// Connected is the instant after the ingress TCP connection and
	// Identify handshake complete, before any audio has been played.
	Connected State = iota

	// Greeting is playing the canonical greeting phrase.
	Greeting

	// Listening is waiting for caller speech, running the silence timer.
	Listening

	// Processing is awaiting the LLM Agent's turn outcome. Incoming audio
	// still feeds STT during this state, but transcripts are not dispatched
	// until the turn completes.
	Processing

	// Speaking is streaming synthesized audio back to the caller.
	Speaking

	// Transferring means the call is being handed to a human operator.
	Transferring

	// Ended is terminal; no further transitions are possible.
	Ended
)

func (s State) String() string {
	switch s {
	case Connected:
		return "Connected"
	case Greeting:
		return "Greeting"
	case Listening:
		return "Listening"
	case Processing:
		return "Processing"
	case Speaking:
		return "Speaking"
	case Transferring:
		return "Transferring"
	case Ended:
		return "Ended"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions is the full adjacency table for the call state machine, per
// the diagram:
//
//	Connected → Greeting → Listening ⇄ Processing → Speaking ⇄ Listening
//	                                                         ↘ Transferring → Ended
//	                           ↘ (2× silence timeout) → Ended
//	(any state) → (Hangup / fatal) → Ended
//
// Every state may additionally transition to Ended (hangup or fatal error);
// that edge is checked separately in IsValidTransition rather than repeated
// in every entry below.
var transitions = map[State][]State{
	Connected:    {Greeting},
	Greeting:     {Listening},
	Listening:    {Processing, Speaking},
	Processing:   {Listening, Speaking},
	Speaking:     {Listening, Transferring},
	Transferring: {},
	Ended:        {},
}

// IsValidTransition reports whether moving from "from" to "to" is one of
// the edges in the call state machine. Ended is reachable from any
// non-terminal state (hangup, fatal error, or the double silence timeout
// all end the call this way) in addition to the edges above.
func IsValidTransition(from, to State) bool {
	if to == Ended {
		return from != Ended
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
