package mock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"avatar-control-service/internal/models"
)

func collect(t *testing.T, s *Source) []models.TranscriptUpdate {
	t.Helper()
	var got []models.TranscriptUpdate
	if err := s.Run(context.Background(), "k1", func(u models.TranscriptUpdate) { got = append(got, u) }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return got
}

func TestSource_ScriptShape(t *testing.T) {
	got := collect(t, NewScript(DefaultExchanges, 0))

	finals := 0
	var lastAgent string
	for _, u := range got {
		if u.ChannelID != "k1" || u.Timestamp == 0 {
			t.Errorf("update = %+v", u)
		}
		if u.SpeakerRole != models.RoleAgent {
			lastAgent = ""
			continue
		}
		// Agent text is cumulative within a turn.
		if !strings.HasPrefix(u.Text, lastAgent) {
			t.Errorf("%q does not extend %q", u.Text, lastAgent)
		}
		lastAgent = u.Text
		if u.IsFinal {
			finals++
			lastAgent = ""
		}
	}
	if finals != len(DefaultExchanges) {
		t.Errorf("agent finals = %d, want %d", finals, len(DefaultExchanges))
	}
}

func TestSource_DefaultPartialsArePrefixes(t *testing.T) {
	for i, ex := range DefaultExchanges {
		for _, p := range ex.Partials {
			if !strings.HasPrefix(ex.Final, p) {
				t.Errorf("exchange %d: partial %q is not a prefix of %q", i, p, ex.Final)
			}
		}
	}
}

func TestSource_AgentInitiatedTurn(t *testing.T) {
	got := collect(t, NewScript([]Exchange{{Final: "欢迎。"}}, 0))
	if len(got) != 1 || got[0].SpeakerRole != models.RoleAgent || !got[0].IsFinal {
		t.Errorf("got %+v", got)
	}
}

func TestSource_Rotation(t *testing.T) {
	a := New(0)
	b := New(0)
	if a.exchanges[0].Final == b.exchanges[0].Final {
		t.Error("consecutive sources should start at different exchanges")
	}
	if len(a.exchanges) != len(DefaultExchanges) {
		t.Errorf("script length = %d", len(a.exchanges))
	}
}

func TestSource_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScript(DefaultExchanges, 10*time.Millisecond)

	count := 0
	err := s.Run(ctx, "k1", func(models.TranscriptUpdate) {
		count++
		if count == 2 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if count != 2 {
		t.Errorf("updates after cancel = %d, want 2", count)
	}
}
