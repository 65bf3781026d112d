package vindex

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vanntrong/qaserve-go/internal/locking"
)

func Test_VIndex_AppendAndSearch(t *testing.T) {
	t.Parallel()

	ix, err := New(3)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ix.Close()

	ids := []int64{10, 20, 30}
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	if err := ix.Append(t.Context(), ids, vectors); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if ix.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", ix.Len())
	}

	matches, err := ix.Search(t.Context(), []float32{0.9, 0.1, 0}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Search() returned %d matches, want 2", len(matches))
	}
	if matches[0].RecordID != 10 {
		t.Fatalf("nearest RecordID = %d, want 10", matches[0].RecordID)
	}
	if matches[0].Distance >= matches[1].Distance {
		t.Fatalf("matches not ordered by distance: %v then %v", matches[0].Distance, matches[1].Distance)
	}
}

func Test_VIndex_SearchEmptyIndex(t *testing.T) {
	t.Parallel()

	ix, err := New(0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ix.Close()

	if ix.Dimensions() != DefaultDimensions {
		t.Fatalf("Dimensions() = %d, want %d", ix.Dimensions(), DefaultDimensions)
	}

	matches, err := ix.Search(t.Context(), make([]float32, DefaultDimensions), 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if matches != nil {
		t.Fatalf("Search() on empty index = %v, want nil", matches)
	}
}

func Test_VIndex_SearchClampsK(t *testing.T) {
	t.Parallel()

	ix, err := New(2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ix.Close()

	if err := ix.Append(t.Context(), []int64{1, 2}, [][]float32{{1, 0}, {0, 1}}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	matches, err := ix.Search(t.Context(), []float32{1, 0}, 50)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Search() returned %d matches, want 2", len(matches))
	}
}

func Test_VIndex_AppendLengthMismatch(t *testing.T) {
	t.Parallel()

	ix, err := New(2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ix.Close()

	if err := ix.Append(t.Context(), []int64{1, 2}, [][]float32{{1, 0}}); err == nil {
		t.Fatal("Append() = nil, want length mismatch error")
	}
}

func Test_VIndex_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.vecgo")
	locker, err := locking.NewFileLocker(filepath.Join(dir, "locks"), nil)
	if err != nil {
		t.Fatalf("NewFileLocker() error = %v", err)
	}

	ix, err := New(2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := ix.Append(t.Context(), []int64{7, 8}, [][]float32{{1, 0}, {0, 1}}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	stamp := time.Date(2026, 3, 1, 12, 30, 0, 500, time.UTC)
	if err := ix.Save(t.Context(), path, locker, stamp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := ix.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	meta, err := ReadMeta(path)
	if err != nil {
		t.Fatalf("ReadMeta() error = %v", err)
	}
	if meta.Rows != 2 || meta.Dims != 2 {
		t.Fatalf("meta = %+v, want rows 2 dims 2", meta)
	}
	if !meta.Stamp.Equal(stamp) {
		t.Fatalf("meta stamp = %v, want %v", meta.Stamp, stamp)
	}

	got, err := Load(path, meta.Rows, meta.Dims)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer got.Close()

	if got.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", got.Len())
	}
	matches, err := got.Search(t.Context(), []float32{0, 1}, 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 || matches[0].RecordID != 8 {
		t.Fatalf("Search() = %v, want single match with RecordID 8", matches)
	}
}
