package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/arbor/internal/engine"
)

func TestLoadContext_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.LoadContext(context.Background(), "missing")
	if !errors.Is(err, ErrContextNotFound) {
		t.Errorf("LoadContext() = %v, want ErrContextNotFound", err)
	}
	if !errors.Is(err, engine.ErrContextNotFound) {
		t.Error("store and engine sentinels must match")
	}
}

func TestLoadContext_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := engine.ContextRecord{
		GUID:       "g1",
		InstanceID: "inst",
		Activity:   "body",
		ContextID:  3,
		OrderID:    9,
		Data:       []byte(`{"version":1,"root":{"name":"body"}}`),
	}
	if err := s.SaveContext(ctx, want); err != nil {
		t.Fatalf("SaveContext() failed: %v", err)
	}

	got, err := s.LoadContext(ctx, "g1")
	if err != nil {
		t.Fatalf("LoadContext() failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestListContexts_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, rec := range []engine.ContextRecord{
		createTestContext("b", "inst", 2),
		createTestContext("c", "inst", 5),
		createTestContext("a", "inst", 2),
		createTestContext("z", "other", 9),
	} {
		if err := s.SaveContext(ctx, rec); err != nil {
			t.Fatalf("SaveContext(%s) failed: %v", rec.GUID, err)
		}
	}

	recs, err := s.ListContexts(ctx, "inst")
	if err != nil {
		t.Fatalf("ListContexts() failed: %v", err)
	}
	var got []string
	for _, r := range recs {
		got = append(got, r.GUID)
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestListContexts_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)

	recs, err := s.ListContexts(context.Background(), "none")
	if err != nil {
		t.Fatalf("ListContexts() failed: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Errorf("ListContexts() = %#v, want empty slice", recs)
	}
}

func TestReadTrace_OrderedBySeqAndFiltered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, r := range []engine.TrackRecord{
		createTestTrack("inst", 3, "persist"),
		createTestTrack("inst", 1, "start"),
		createTestTrack("inst", 2, "status"),
		createTestTrack("other", 1, "start"),
	} {
		if err := s.Track(ctx, r); err != nil {
			t.Fatalf("Track() failed: %v", err)
		}
	}

	all, err := s.ReadTrace(ctx, "inst")
	if err != nil {
		t.Fatalf("ReadTrace() failed: %v", err)
	}
	var seqs []int64
	for _, r := range all {
		seqs = append(seqs, r.Seq)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, seqs); diff != "" {
		t.Errorf("seq order mismatch (-want +got):\n%s", diff)
	}

	some, err := s.ReadTrace(ctx, "inst", "start", "persist")
	if err != nil {
		t.Fatalf("ReadTrace(keys) failed: %v", err)
	}
	var keys []string
	for _, r := range some {
		keys = append(keys, r.Key)
	}
	if diff := cmp.Diff([]string{"start", "persist"}, keys); diff != "" {
		t.Errorf("filtered keys mismatch (-want +got):\n%s", diff)
	}
}
