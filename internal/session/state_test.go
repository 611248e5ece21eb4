package session_test

import (
	"testing"

	"github.com/voxline/callhandler/internal/session"
)

func TestIsValidTransition_MainCycle(t *testing.T) {
	valid := []struct{ from, to session.State }{
		{session.Connected, session.Greeting},
		{session.Greeting, session.Listening},
		{session.Listening, session.Processing},
		{session.Processing, session.Listening},
		{session.Processing, session.Speaking},
		{session.Speaking, session.Listening},
		{session.Speaking, session.Transferring},
		{session.Transferring, session.Ended},
	}
	for _, tc := range valid {
		if !session.IsValidTransition(tc.from, tc.to) {
			t.Errorf("IsValidTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}
}

func TestIsValidTransition_AnyStateToEnded(t *testing.T) {
	for _, s := range []session.State{
		session.Connected, session.Greeting, session.Listening,
		session.Processing, session.Speaking, session.Transferring,
	} {
		if !session.IsValidTransition(s, session.Ended) {
			t.Errorf("IsValidTransition(%s, Ended) = false, want true", s)
		}
	}
}

func TestIsValidTransition_EndedIsTerminal(t *testing.T) {
	if session.IsValidTransition(session.Ended, session.Ended) {
		t.Error("Ended should not transition anywhere, including to itself")
	}
	if session.IsValidTransition(session.Ended, session.Listening) {
		t.Error("Ended should not transition to Listening")
	}
}

func TestIsValidTransition_RejectsIllegalEdges(t *testing.T) {
	illegal := []struct{ from, to session.State }{
		{session.Connected, session.Listening},
		{session.Greeting, session.Processing},
		{session.Listening, session.Transferring},
		{session.Transferring, session.Listening},
		{session.Speaking, session.Processing},
	}
	for _, tc := range illegal {
		if session.IsValidTransition(tc.from, tc.to) {
			t.Errorf("IsValidTransition(%s, %s) = true, want false", tc.from, tc.to)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    session.State
		want string
	}{
		{session.Connected, "Connected"},
		{session.Greeting, "Greeting"},
		{session.Listening, "Listening"},
		{session.Processing, "Processing"},
		{session.Speaking, "Speaking"},
		{session.Transferring, "Transferring"},
		{session.Ended, "Ended"},
	}
	for _, tc := range tests {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
