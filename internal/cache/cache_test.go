package cache

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/vanntrong/qaserve-go/internal/locking"
)

func testSnapshot(t *testing.T, n int) *Snapshot {
	t.Helper()
	s := New()
	ids := make([]int64, n)
	embs := make([][]float32, n)
	qs := make([]string, n)
	as := make([]string, n)
	cqs := make([]string, n)
	cas := make([]string, n)
	for i := range ids {
		ids[i] = int64(i + 1)
		embs[i] = []float32{float32(i), 1}
		qs[i] = "Question?"
		as[i] = "Answer."
		cqs[i] = "question?"
		cas[i] = "answer."
	}
	if err := s.Append(ids, embs, qs, as, cqs, cas); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return s
}

func Test_Cache_ValidateLengthMismatch(t *testing.T) {
	t.Parallel()

	s := testSnapshot(t, 3)
	s.Answers = s.Answers[:2]
	if err := s.Validate(); err == nil {
		t.Fatal("Validate() = nil, want length mismatch error")
	}
}

func Test_Cache_ValidateDuplicateID(t *testing.T) {
	t.Parallel()

	s := testSnapshot(t, 3)
	s.IDs[2] = s.IDs[0]
	if err := s.Validate(); err == nil {
		t.Fatal("Validate() = nil, want duplicate id error")
	}
}

func Test_Cache_AppendMismatchedArgsLeavesSnapshotUntouched(t *testing.T) {
	t.Parallel()

	s := testSnapshot(t, 2)
	err := s.Append([]int64{9}, nil, []string{"q"}, []string{"a"}, []string{"q"}, []string{"a"})
	if err == nil {
		t.Fatal("Append() = nil, want error for mismatched lengths")
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d after failed append, want 2", s.Len())
	}
}

func Test_Cache_TruncateTo(t *testing.T) {
	t.Parallel()

	s := testSnapshot(t, 5)
	s.TruncateTo(3)
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() after truncate error = %v", err)
	}
}

func Test_Cache_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json.gz")
	locker, err := locking.NewFileLocker(filepath.Join(dir, "locks"), nil)
	if err != nil {
		t.Fatalf("NewFileLocker() error = %v", err)
	}

	s := testSnapshot(t, 4)
	s.LastUpdated = time.Now().Truncate(time.Second)
	if err := Save(t.Context(), s, path, locker); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", got.Len())
	}
	if got.IDs[3] != 4 {
		t.Fatalf("IDs[3] = %d, want 4", got.IDs[3])
	}
	if got.Embeddings[2][0] != 2 {
		t.Fatalf("Embeddings[2][0] = %v, want 2", got.Embeddings[2][0])
	}
	if got.Version != SchemaVersion {
		t.Fatalf("Version = %d, want %d", got.Version, SchemaVersion)
	}
}

func Test_Cache_LoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.json.gz"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load() error = %v, want fs.ErrNotExist", err)
	}
}

func Test_Cache_LoadRejectsSchemaVersion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json.gz")
	locker, err := locking.NewFileLocker(filepath.Join(dir, "locks"), nil)
	if err != nil {
		t.Fatalf("NewFileLocker() error = %v", err)
	}

	s := testSnapshot(t, 1)
	if err := Save(t.Context(), s, path, locker); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	s.Version = SchemaVersion + 1
	if err := Save(t.Context(), s, path, locker); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err = Load(path); !errors.Is(err, ErrSchemaVersion) {
		t.Fatalf("Load() error = %v, want ErrSchemaVersion", err)
	}
}

func Test_Cache_IndexByID(t *testing.T) {
	t.Parallel()

	s := testSnapshot(t, 3)
	m := s.IndexByID()
	if m[2] != 1 {
		t.Fatalf("IndexByID()[2] = %d, want 1", m[2])
	}
}
