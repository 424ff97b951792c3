package upload

import (
	"testing"
	"time"
)

func TestStateTerminal(t *testing.T) {
	terminal := map[State]bool{
		StateCompleted: true,
		StateFailed:    true,
		StateCancelled: true,
	}
	all := []State{
		StateInitialized, StateReceiving, StateAssembling, StateValidating,
		StateAnalyzing, StatePreviewGenerating, StatePersisting,
		StateCompleted, StateFailed, StateCancelled,
	}
	for _, s := range all {
		if got, want := s.Terminal(), terminal[s]; got != want {
			t.Errorf("State(%q).Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestNonTerminalStatesCanFail(t *testing.T) {
	for _, s := range []State{
		StateInitialized, StateReceiving, StateAssembling, StateValidating,
		StateAnalyzing, StatePreviewGenerating, StatePersisting,
	} {
		reg := NewRegistry(1<<20, 16, time.Minute)
		sess, err := reg.Open(1, 1, "song.mp3", 100, 1, checksumOf([]byte("x")))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		sess.SetState(s)
		sess.SetState(StateFailed)
		if got := sess.State(); got != StateFailed {
			t.Errorf("from %q: state = %q, want failed", s, got)
		}
	}
}
