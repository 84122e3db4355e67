package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/flemzord/chatpilot/internal/provider"
)

type failingStore struct{ Store }

func (failingStore) Search(context.Context, string, string, int) ([]Fact, error) {
	return nil, errors.New("backend unavailable")
}

func TestInjector_RecallShapesFactsAsSystemTurns(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()
	_ = s.Index(ctx, Fact{ID: "1", ConversationID: "c", Content: "prefers coffee black"})
	_ = s.Index(ctx, Fact{ID: "2", ConversationID: "c", Content: "coffee budget is 20 euros"})

	inj := NewInjector(s, 5, nil)
	got := inj.Recall(ctx, "c", "coffee")
	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got))
	}
	for _, m := range got {
		if m.Role != provider.RoleSystem {
			t.Fatalf("memory turn role = %q, want system", m.Role)
		}
	}
	// Best match is ranked first by the store and must end up last so a
	// tight budget keeps it.
	if got[len(got)-1].Content != "prefers coffee black" {
		t.Fatalf("best match not last: %+v", got)
	}
}

func TestInjector_RecallFailureDegradesToNone(t *testing.T) {
	t.Parallel()

	inj := NewInjector(failingStore{}, 5, nil)
	if got := inj.Recall(context.Background(), "c", "anything"); got != nil {
		t.Fatalf("expected nil on store failure, got %+v", got)
	}
}

func TestInjector_NilStoreDisablesRecall(t *testing.T) {
	t.Parallel()

	inj := NewInjector(nil, 5, nil)
	if got := inj.Recall(context.Background(), "c", "q"); got != nil {
		t.Fatalf("expected nil with no store, got %+v", got)
	}
}
