package journal

import (
	"context"
	"testing"

	"vantage/pkg/storage"
)

func TestRecentOrdersMostRecentFirst(t *testing.T) {
	j := New(Config{RingSize: 4}, nil, nil)
	ctx := context.Background()

	domains := []string{"a.com", "b.com", "c.com"}
	for _, d := range domains {
		j.Record(ctx, &storage.QueryLog{Domain: d})
	}

	got := j.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Domain != "c.com" || got[2].Domain != "a.com" {
		t.Errorf("unexpected order: %v", []string{got[0].Domain, got[1].Domain, got[2].Domain})
	}
}

func TestRecentWraps(t *testing.T) {
	j := New(Config{RingSize: 2}, nil, nil)
	ctx := context.Background()

	for _, d := range []string{"a.com", "b.com", "c.com"} {
		j.Record(ctx, &storage.QueryLog{Domain: d})
	}

	got := j.Recent(10)
	if len(got) != 2 {
		t.Fatalf("expected ring to cap at 2 entries, got %d", len(got))
	}
	if got[0].Domain != "c.com" || got[1].Domain != "b.com" {
		t.Errorf("unexpected wrapped order: %v", []string{got[0].Domain, got[1].Domain})
	}
}

func TestRecordPersistsToBackend(t *testing.T) {
	backend := storage.NewNoOpStorage()
	j := New(Config{}, nil, backend)
	ctx := context.Background()

	j.Record(ctx, &storage.QueryLog{Domain: "example.com"})

	if len(j.Recent(1)) != 1 {
		t.Fatalf("expected ring to contain the recorded entry")
	}
}

func TestRecordIgnoresNil(t *testing.T) {
	j := New(Config{}, nil, nil)
	j.Record(context.Background(), nil)
	if len(j.Recent(10)) != 0 {
		t.Errorf("expected no entries after recording nil")
	}
}
