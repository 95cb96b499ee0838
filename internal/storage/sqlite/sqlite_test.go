package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/brightmast/windassess/pkg/timeseries"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	in := timeseries.New([]float64{5.5, math.NaN(), 7.25})
	in.Name = "mast_80m"
	if err := store.SaveSeries(ctx, in); err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}

	out, err := store.LoadSeries(ctx, "mast_80m")
	if err != nil {
		t.Fatalf("LoadSeries: %v", err)
	}
	if out.Len() != 3 {
		t.Fatalf("loaded length = %d, want 3", out.Len())
	}
	if out.Values[0] != 5.5 || out.Values[2] != 7.25 {
		t.Errorf("values = %v", out.Values)
	}
	// NULL round-trips as a missing observation.
	if !math.IsNaN(out.Values[1]) {
		t.Errorf("values[1] = %v, want NaN", out.Values[1])
	}
	for i := range in.Timestamps {
		if !out.Timestamps[i].Equal(in.Timestamps[i]) {
			t.Errorf("timestamp[%d] = %v, want %v", i, out.Timestamps[i], in.Timestamps[i])
		}
	}
	if out.Name != "mast_80m" {
		t.Errorf("name = %q", out.Name)
	}
}

func TestSaveSeriesUpserts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	s := timeseries.New([]float64{1, 2, 3})
	s.Name = "ref"
	if err := store.SaveSeries(ctx, s); err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}
	s.Values[1] = 20
	if err := store.SaveSeries(ctx, s); err != nil {
		t.Fatalf("SaveSeries (again): %v", err)
	}

	out, err := store.LoadSeries(ctx, "ref")
	if err != nil {
		t.Fatalf("LoadSeries: %v", err)
	}
	if out.Len() != 3 || out.Values[1] != 20 {
		t.Errorf("after upsert: len %d values %v", out.Len(), out.Values)
	}
}

func TestSaveSeriesRequiresName(t *testing.T) {
	store := openTestStore(t)
	if err := store.SaveSeries(context.Background(), timeseries.New([]float64{1})); err == nil {
		t.Error("expected error for an unnamed series")
	}
}

func TestLoadSeriesMissing(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.LoadSeries(context.Background(), "absent"); err == nil {
		t.Error("expected error for an unknown series")
	}
}

func TestListSeries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"tar", "ref"} {
		s := timeseries.New([]float64{1})
		s.Name = name
		if err := store.SaveSeries(ctx, s); err != nil {
			t.Fatalf("SaveSeries(%s): %v", name, err)
		}
	}
	names, err := store.ListSeries(ctx)
	if err != nil {
		t.Fatalf("ListSeries: %v", err)
	}
	if len(names) != 2 || names[0] != "ref" || names[1] != "tar" {
		t.Errorf("names = %v, want [ref tar]", names)
	}
}
