package turn

import "testing"

func TestLifecycle_FullTurn(t *testing.T) {
	l := NewLifecycle()
	if l.State() != StateIdle {
		t.Fatalf("initial state = %v", l.State())
	}
	if err := l.Chunk(); err != ErrTurnNotStarted {
		t.Errorf("Chunk before Begin err = %v", err)
	}

	l.Begin("k-turn-1")
	for i := 0; i < 3; i++ {
		if err := l.Chunk(); err != nil {
			t.Fatalf("Chunk: %v", err)
		}
	}
	if l.Chunks() != 3 {
		t.Errorf("Chunks = %d, want 3", l.Chunks())
	}
	if err := l.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := l.Finish(); err != ErrTurnOver {
		t.Errorf("second Finish err = %v, want ErrTurnOver", err)
	}
	if err := l.Chunk(); err != ErrTurnOver {
		t.Errorf("Chunk after Finish err = %v, want ErrTurnOver", err)
	}
	if l.Interrupt() {
		t.Error("Interrupt after Finish should be a no-op")
	}
}

func TestLifecycle_Interrupt(t *testing.T) {
	l := NewLifecycle()
	if l.Interrupt() {
		t.Error("Interrupt while idle should be a no-op")
	}

	l.Begin("k-turn-1")
	if !l.Interrupt() {
		t.Fatal("Interrupt while speaking should transition")
	}
	if l.State() != StateInterrupted || !l.State().IsTerminal() {
		t.Errorf("state = %v", l.State())
	}
	if err := l.Finish(); err != ErrTurnOver {
		t.Errorf("Finish after interrupt err = %v", err)
	}

	l.Begin("k-turn-2")
	if l.TurnId() != "k-turn-2" || l.State() != StateSpeaking || l.Chunks() != 0 {
		t.Errorf("after Begin: id=%s state=%v chunks=%d", l.TurnId(), l.State(), l.Chunks())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateSpeaking, "SPEAKING"},
		{StateFinished, "FINISHED"},
		{StateInterrupted, "INTERRUPTED"},
		{State(42), "UNKNOWN(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
