package index

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/domain/vector"
)

func TestCodec_RoundTrip(t *testing.T) {
	for _, mode := range []Mode{ModeExact, ModeIVF} {
		t.Run(string(mode), func(t *testing.T) {
			opts := Options{Dimensions: 4, Metric: vector.L2, Mode: mode, TrainThreshold: 10, NList: 3}
			idx := newIndex(t, opts)
			vecs := randomVectors(40, 4, 31)
			fill(t, idx, vecs)
			g := idx.gen.Load()

			data, err := encodeSnapshot(g, idx.opts)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, h, err := decodeSnapshot(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if h.Count != 40 || h.Dimensions != 4 || h.Metric != vector.L2 || h.Mode != mode {
				t.Errorf("unexpected header %+v", h)
			}
			if h.Generation != g.id.String() || got.seq != g.seq {
				t.Errorf("generation identity lost: %+v", h)
			}
			if !slices.Equal(got.ids, g.ids) {
				t.Error("ids differ")
			}
			for id, v := range vecs {
				if !slices.Equal(got.vectors[id], v) {
					t.Fatalf("vector %s differs", id)
				}
			}
			if mode == ModeIVF && (got.ivf == nil || len(got.ivf.lists) != 3) {
				t.Error("quantizer not restored")
			}
		})
	}
}

func TestCodec_DetectsCorruption(t *testing.T) {
	idx := newIndex(t, Options{Dimensions: 2})
	fill(t, idx, map[string][]float32{"a": {1, 0}, "b": {0, 1}})
	data, err := encodeSnapshot(idx.gen.Load(), idx.opts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", data[:len(data)/2]},
		{"flipped byte", func() []byte {
			b := slices.Clone(data)
			b[20] ^= 0xff
			return b
		}()},
		{"bad trailer", func() []byte {
			b := slices.Clone(data)
			b[len(b)-1] ^= 0x01
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeHeader(tt.data); !errors.Is(err, domain.ErrIndexCorruption) {
				t.Errorf("expected ErrIndexCorruption, got %v", err)
			}
		})
	}
}

func TestSaveAndRecover(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	src, err := New(Options{Dimensions: 3}, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fill(t, src, map[string][]float32{"a": {1, 0, 0}, "b": {0, 1, 0}})
	name, err := src.Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	dst, _ := New(Options{Dimensions: 3}, store, nil)
	got, err := dst.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if got != name {
		t.Errorf("recovered %q, want %q", got, name)
	}
	if dst.Len() != 2 {
		t.Errorf("Len() = %d", dst.Len())
	}
	res, _ := dst.Search(ctx, []float32{0, 1, 0}, 1)
	if res[0].ID != "b" {
		t.Errorf("got %v", ids(res))
	}
}

func TestRecover_SkipsBadSnapshots(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	idx, _ := New(Options{Dimensions: 2}, store, nil)
	_ = idx.Insert(ctx, "good", []float32{1, 0})
	good, err := idx.Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	newer := SnapshotName(SnapshotPrefix, time.Now().Add(time.Hour), "broken")
	_ = store.Save(ctx, newer, []byte("KPDXgarbage"))

	fresh, _ := New(Options{Dimensions: 2}, store, nil)
	name, err := fresh.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if name != good {
		t.Errorf("recovered %q, want %q", name, good)
	}
}

func TestRecover_RejectsIncompatibleSnapshot(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	idx, _ := New(Options{Dimensions: 2}, store, nil)
	_ = idx.Insert(ctx, "a", []float32{1, 0})
	if _, err := idx.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	other, _ := New(Options{Dimensions: 3}, store, nil)
	if _, err := other.Recover(ctx); !errors.Is(err, domain.ErrIndexCorruption) {
		t.Errorf("expected ErrIndexCorruption, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	idx, _ := New(Options{Dimensions: 2}, store, nil)
	_ = idx.Insert(ctx, "a", []float32{1, 0})
	good, err := idx.Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	broken := SnapshotName(SnapshotPrefix, time.Now().Add(time.Hour), "broken")
	_ = store.Save(ctx, broken, []byte("KPDXgarbage"))

	h, err := idx.Verify(ctx, good)
	if err != nil {
		t.Fatalf("Verify(good): %v", err)
	}
	if h.Count != 1 || h.Dimensions != 2 {
		t.Errorf("unexpected header %+v", h)
	}
	if _, err := idx.Verify(ctx, broken); !errors.Is(err, domain.ErrIndexCorruption) {
		t.Errorf("Verify(broken) = %v, want ErrIndexCorruption", err)
	}

	other, _ := New(Options{Dimensions: 3}, store, nil)
	if _, err := other.Verify(ctx, good); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Verify(incompatible) = %v, want ErrInvalidInput", err)
	}
	if idx.Len() != 1 {
		t.Error("Verify must not change the current generation")
	}
}

func TestSave_Prunes(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	idx, _ := New(Options{Dimensions: 2, KeepSnapshots: 2}, store, nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = idx.Insert(ctx, id, []float32{1, 1})
		if _, err := idx.Save(ctx); err != nil {
			t.Fatalf("Save: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	names, _ := store.List(ctx, SnapshotPrefix)
	if len(names) != 2 {
		t.Errorf("kept %d snapshots, want 2", len(names))
	}
}

func TestSave_NoStore(t *testing.T) {
	idx, _ := New(Options{Dimensions: 2}, nil, nil)
	if _, err := idx.Save(context.Background()); err == nil {
		t.Error("expected error without a store")
	}
}

func TestCorruptGeneration_FallsBackToSnapshot(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	idx, _ := New(Options{Dimensions: 2}, store, nil)
	fill(t, idx, map[string][]float32{"a": {1, 0}, "b": {0, 1}})
	if _, err := idx.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// publish a generation whose stored vector violates the dimension invariant
	bad := idx.gen.Load().next(map[string][]float32{"c": {1, 0, 0}}, nil)
	idx.gen.Store(bad)

	_, err := idx.Search(ctx, []float32{1, 0}, 3)
	if !errors.Is(err, domain.ErrIndexCorruption) {
		t.Fatalf("expected ErrIndexCorruption, got %v", err)
	}
	if !bad.bad.Load() {
		t.Error("corrupt generation not marked")
	}
	if idx.gen.Load() == bad {
		t.Fatal("index still serving the corrupt generation")
	}
	res, err := idx.Search(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search after recovery: %v", err)
	}
	if !slices.Equal(ids(res), []string{"a", "b"}) {
		t.Errorf("got %v", ids(res))
	}
}

func TestCorruptGeneration_WithoutStoreStaysFailed(t *testing.T) {
	idx, _ := New(Options{Dimensions: 2}, nil, nil)
	bad := idx.gen.Load().next(map[string][]float32{"c": {1}}, nil)
	idx.gen.Store(bad)
	ctx := context.Background()
	for n := 0; n < 2; n++ {
		if _, err := idx.Search(ctx, []float32{1, 0}, 1); !errors.Is(err, domain.ErrIndexCorruption) {
			t.Fatalf("attempt %d: expected ErrIndexCorruption, got %v", n, err)
		}
	}
	if err := idx.Insert(ctx, "x", []float32{1, 0}); !errors.Is(err, domain.ErrIndexCorruption) {
		t.Errorf("insert into corrupt generation: expected ErrIndexCorruption, got %v", err)
	}
}

func TestRefresh_InstallsNewerSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	writer, _ := New(Options{Dimensions: 3}, store, nil)
	reader, _ := New(Options{Dimensions: 3}, store, nil)

	fill(t, writer, map[string][]float32{"a": {1, 0, 0}})
	if _, err := writer.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := reader.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if name, err := reader.Refresh(ctx); err != nil || name != "" {
		t.Fatalf("Refresh() on a current index = %q, %v", name, err)
	}

	fill(t, writer, map[string][]float32{"b": {0, 1, 0}})
	saved, err := writer.Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := reader.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got != saved {
		t.Errorf("Refresh() = %q, want %q", got, saved)
	}
	if reader.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reader.Len())
	}
	if reader.Dirty() {
		t.Error("refreshed index reports unsaved changes")
	}
	if name, _ := reader.Refresh(ctx); name != "" {
		t.Errorf("second Refresh() = %q, want no-op", name)
	}
}

func TestRefresh_EmptyStoreIsNoop(t *testing.T) {
	idx := newIndex(t, Options{Dimensions: 2})
	if name, err := idx.Refresh(context.Background()); err != nil || name != "" {
		t.Errorf("Refresh() = %q, %v", name, err)
	}
}

func TestRefresh_KeepsUnsavedChanges(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	writer, _ := New(Options{Dimensions: 3}, store, nil)
	reader, _ := New(Options{Dimensions: 3}, store, nil)

	if err := reader.Insert(ctx, "local", []float32{0, 0, 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	fill(t, writer, map[string][]float32{"a": {1, 0, 0}, "b": {0, 1, 0}})
	if _, err := writer.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := reader.Refresh(ctx); err == nil {
		t.Fatal("expected an error for a generation with unsaved changes")
	}
	if _, err := reader.Get("local"); err != nil {
		t.Errorf("local vector lost: %v", err)
	}
}

func TestDirty(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, Options{Dimensions: 2})
	if idx.Dirty() {
		t.Fatal("empty index reports unsaved changes")
	}
	if err := idx.Insert(ctx, "a", []float32{1, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !idx.Dirty() {
		t.Error("expected unsaved changes after insert")
	}
	if _, err := idx.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if idx.Dirty() {
		t.Error("expected no unsaved changes after save")
	}
}
