// internal/staging/staging.go

// Package staging is the durable buffer between acquisition and transfer.
// Readings accumulate in memory per instrument and are flushed at the
// reporting cadence into transfer units: files that exist either
// completely or not at all.
package staging

import (
	"archive/zip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/meteolab/stationdaq/internal/instrument"
)

// Unit is one completed, durable transfer unit.
type Unit struct {
	Instrument string
	Name       string
	Path       string
}

// Buffer accumulates readings for one instrument between flushes.
type Buffer struct {
	mu       sync.Mutex
	readings []*instrument.Reading
}

// Add appends readings. Invalid readings are dropped.
func (b *Buffer) Add(rs ...*instrument.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rs {
		if r.Valid() {
			b.readings = append(b.readings, r)
		}
	}
}

// Len reports the buffered reading count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readings)
}

// Drain removes and returns everything buffered.
func (b *Buffer) Drain() []*instrument.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs := b.readings
	b.readings = nil
	return rs
}

// Stage owns the staging directory tree: one subdirectory per instrument.
type Stage struct {
	root string
}

// New prepares the staging root.
func New(root string) (*Stage, error) {
	if root == "" {
		return nil, errors.New("staging: root directory required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("staging: %w", err)
	}
	return &Stage{root: root}, nil
}

// Flush writes the readings as one transfer unit, atomically: the file
// appears under its final name only after its content is complete. Names
// are deterministic, so re-flushing the same interval overwrites rather
// than duplicates. An empty batch flushes nothing.
func (s *Stage) Flush(instrumentID string, rs []*instrument.Reading, archive bool) (Unit, error) {
	if len(rs) == 0 {
		return Unit{}, nil
	}

	dir := filepath.Join(s.root, instrumentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Unit{}, fmt.Errorf("staging: %w", err)
	}

	// unit timestamp = newest reading, UTC
	newest := rs[0].Timestamp
	for _, r := range rs[1:] {
		if r.Timestamp.After(newest) {
			newest = r.Timestamp
		}
	}
	stem := fmt.Sprintf("%s-%s", instrumentID, newest.UTC().Format("20060102150405"))

	ext := ".dat"
	if archive {
		ext = ".zip"
	}
	name := stem + ext
	final := filepath.Join(dir, name)
	tmp := final + ".tmp"

	var err error
	if archive {
		err = writeZip(tmp, stem+".dat", rs)
	} else {
		err = writeData(tmp, rs)
	}
	if err != nil {
		os.Remove(tmp)
		return Unit{}, err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return Unit{}, fmt.Errorf("staging: %w", err)
	}

	return Unit{Instrument: instrumentID, Name: name, Path: final}, nil
}

// Recover scans the tree for units left behind by a previous run. Torn
// temporary files are removed; completed units are returned oldest first
// so the transfer queue preserves acquisition order.
func (s *Stage) Recover() ([]Unit, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("staging: %w", err)
	}

	var units []Unit
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("staging: %w", err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			name := f.Name()
			if strings.HasSuffix(name, ".tmp") {
				// torn write from a crash mid-flush
				os.Remove(filepath.Join(dir, name))
				continue
			}
			units = append(units, Unit{
				Instrument: e.Name(),
				Name:       name,
				Path:       filepath.Join(dir, name),
			})
		}
	}

	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })
	return units, nil
}

// writeData writes the unit body: one line per reading, the timestamp
// followed by code=value pairs in insertion order.
func writeData(path string, rs []*instrument.Reading) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("staging: %w", err)
	}
	for _, r := range rs {
		if _, err := f.WriteString(encodeReading(r)); err != nil {
			f.Close()
			return fmt.Errorf("staging: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("staging: %w", err)
	}
	return f.Close()
}

func writeZip(path, member string, rs []*instrument.Reading) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("staging: %w", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create(member)
	if err != nil {
		zw.Close()
		f.Close()
		return fmt.Errorf("staging: %w", err)
	}
	for _, r := range rs {
		if _, err := w.Write([]byte(encodeReading(r))); err != nil {
			zw.Close()
			f.Close()
			return fmt.Errorf("staging: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("staging: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("staging: %w", err)
	}
	return f.Close()
}

func encodeReading(r *instrument.Reading) string {
	var sb strings.Builder
	sb.WriteString(r.Timestamp.UTC().Format(time.RFC3339))
	for _, c := range r.Codes {
		v := r.Values[c]
		sb.WriteByte(' ')
		sb.WriteString(string(c))
		sb.WriteByte('=')
		if v.Numeric {
			sb.WriteString(strconv.FormatFloat(v.Num, 'g', -1, 64))
		} else {
			sb.WriteString(strconv.Quote(v.Text))
		}
	}
	sb.WriteByte('\n')
	return sb.String()
}
