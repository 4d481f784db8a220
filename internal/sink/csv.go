package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"courtcrawl/internal/record"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// CSV stores each table as <dir>/<table>.csv with a UTF-8 BOM and a header.
type CSV struct {
	dir string

	mu    sync.Mutex
	cache map[string]columnCache
}

type columnCache struct {
	size    int64
	modTime time.Time
	ids     map[string]struct{}
}

// NewCSV returns a CSV sink rooted at dir, creating it if needed.
func NewCSV(dir string) (*CSV, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &CSV{dir: dir, cache: map[string]columnCache{}}, nil
}

func (s *CSV) path(table string) string {
	return filepath.Join(s.dir, table+".csv")
}

func (s *CSV) Exists(ctx context.Context, table string) (bool, error) {
	fi, err := os.Stat(s.path(table))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.Size() > 0, nil
}

func (s *CSV) ReadColumn(ctx context.Context, table, column string) (map[string]struct{}, error) {
	p := s.path(table)
	fi, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}

	key := table + "." + column
	s.mu.Lock()
	c, ok := s.cache[key]
	s.mu.Unlock()
	if ok && c.size == fi.Size() && c.modTime.Equal(fi.ModTime()) {
		return copySet(c.ids), nil
	}

	ids, err := scanColumn(p, column)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", p, err)
	}
	s.mu.Lock()
	s.cache[key] = columnCache{size: fi.Size(), modTime: fi.ModTime(), ids: ids}
	s.mu.Unlock()
	return copySet(ids), nil
}

func (s *CSV) Append(ctx context.Context, t Table, rows []record.Row) error {
	if len(rows) == 0 {
		return nil
	}
	p := s.path(t.Name)
	header, err := ensureHeader(p, t.Columns)
	if err != nil {
		return fmt.Errorf("failed to prepare %s: %w", p, err)
	}

	f, err := os.OpenFile(p, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	bufw := bufio.NewWriterSize(f, 1<<16)
	w := csv.NewWriter(bufw)
	for _, r := range rows {
		rec := make([]string, len(header))
		for i, h := range header {
			rec[i] = r[h]
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := bufw.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func (s *CSV) Count(ctx context.Context, table string) (int, error) {
	f, err := os.Open(s.path(table))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(skipBOM(f))
	r.FieldsPerRecord = -1
	n := -1
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		n++
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

func (s *CSV) Close() error { return nil }

// ensureHeader creates p with a BOM and columns as header when it is missing
// or empty, and returns the header actually on disk.
func ensureHeader(p string, columns []string) ([]string, error) {
	fi, err := os.Stat(p)
	if err == nil && fi.Size() > 0 {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		header, err := csv.NewReader(skipBOM(f)).Read()
		if err != nil {
			return nil, err
		}
		return header, nil
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	// Excel needs the BOM to read UTF-8.
	if _, err := f.Write(bom); err != nil {
		f.Close()
		return nil, err
	}
	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	return columns, f.Close()
}

func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	first3, _ := br.Peek(3)
	if len(first3) == 3 && first3[0] == bom[0] && first3[1] == bom[1] && first3[2] == bom[2] {
		br.Discard(3)
	}
	return br
}

func scanColumn(p, column string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(skipBOM(f))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, h := range header {
		if h == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return out, nil
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) <= idx {
			continue
		}
		if id := strings.TrimSpace(row[idx]); id != "" {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
