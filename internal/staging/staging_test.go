// internal/staging/staging_test.go
package staging

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meteolab/stationdaq/internal/instrument"
)

func reading(ts time.Time, code string, v float64) *instrument.Reading {
	r := instrument.NewReading(ts)
	r.Add(instrument.Code(code), instrument.Num(v))
	return r
}

func TestFlush(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	ts := time.Date(2023, 10, 5, 14, 30, 0, 0, time.UTC)
	rs := []*instrument.Reading{
		reading(ts, "o3", 32.174),
		reading(ts.Add(time.Minute), "o3", 33.0),
	}

	u, err := s.Flush("tei49", rs, false)
	if err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if u.Name != "tei49-20231005143100.dat" {
		t.Fatalf("unit name: %q", u.Name)
	}

	body, err := os.ReadFile(u.Path)
	if err != nil {
		t.Fatalf("read unit: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0] != "2023-10-05T14:30:00Z o3=32.174" {
		t.Fatalf("line: %q", lines[0])
	}
}

func TestFlush_DeterministicName(t *testing.T) {
	s, _ := New(t.TempDir())
	ts := time.Date(2023, 10, 5, 14, 30, 0, 0, time.UTC)

	u1, err := s.Flush("n1", []*instrument.Reading{reading(ts, "a", 1)}, false)
	if err != nil {
		t.Fatalf("first flush: %v", err)
	}
	// re-flushing the same interval overwrites, never duplicates
	u2, err := s.Flush("n1", []*instrument.Reading{reading(ts, "a", 2)}, false)
	if err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if u1.Path != u2.Path {
		t.Fatalf("paths differ: %q %q", u1.Path, u2.Path)
	}

	files, _ := os.ReadDir(filepath.Dir(u1.Path))
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
}

func TestFlush_EmptyBatch(t *testing.T) {
	s, _ := New(t.TempDir())
	u, err := s.Flush("n1", nil, false)
	if err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if u.Path != "" {
		t.Fatalf("empty batch should flush nothing, got %+v", u)
	}
}

func TestFlush_Zip(t *testing.T) {
	s, _ := New(t.TempDir())
	ts := time.Date(2023, 10, 5, 14, 30, 0, 0, time.UTC)

	u, err := s.Flush("ae33", []*instrument.Reading{reading(ts, "bc", 850)}, true)
	if err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if !strings.HasSuffix(u.Name, ".zip") {
		t.Fatalf("unit name: %q", u.Name)
	}

	zr, err := zip.OpenReader(u.Path)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 1 || !strings.HasSuffix(zr.File[0].Name, ".dat") {
		t.Fatalf("zip members: %v", zr.File)
	}
}

func TestRecover(t *testing.T) {
	root := t.TempDir()
	s, _ := New(root)

	ts := time.Date(2023, 10, 5, 14, 30, 0, 0, time.UTC)
	u1, _ := s.Flush("n1", []*instrument.Reading{reading(ts, "a", 1)}, false)
	u2, _ := s.Flush("n1", []*instrument.Reading{reading(ts.Add(time.Hour), "a", 2)}, false)

	// a torn write from a crashed flush
	torn := filepath.Join(root, "n1", "n1-20231005150000.dat.tmp")
	os.WriteFile(torn, []byte("partial"), 0o644)

	units, err := s.Recover()
	if err != nil {
		t.Fatalf("Recover() err=%v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	// oldest first
	if units[0].Path != u1.Path || units[1].Path != u2.Path {
		t.Fatalf("order: %+v", units)
	}
	if _, err := os.Stat(torn); !os.IsNotExist(err) {
		t.Fatal("torn temp file should be removed")
	}
}

func TestBuffer(t *testing.T) {
	var b Buffer
	ts := time.Now().UTC()

	b.Add(reading(ts, "a", 1), instrument.NewReading(time.Time{})) // second is invalid
	if b.Len() != 1 {
		t.Fatalf("len=%d, want 1 (invalid reading dropped)", b.Len())
	}

	rs := b.Drain()
	if len(rs) != 1 || b.Len() != 0 {
		t.Fatalf("drain: got %d, remaining %d", len(rs), b.Len())
	}
}
