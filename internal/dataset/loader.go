// Package dataset loads namespace edit-count tables into feature vectors.
package dataset

import (
	"bufio"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/oho/wpcluster/internal/mathutil"
)

// ErrNoRecords is returned when the input has a header but no data rows.
var ErrNoRecords = errors.New("no data records")

// RowError reports a malformed input row.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Record is one input row.
type Record struct {
	Line  int                    `json:"line"`
	Label string                 `json:"label"`
	Raw   mathutil.FeatureVector `json:"raw"`
	// Vec is Raw after the dataset's unit transform.
	Vec mathutil.FeatureVector `json:"-"`
}

// Dataset is a fully loaded, transformed input file.
type Dataset struct {
	Path        string
	Hash        string
	Units       mathutil.Units
	Records     []Record
	ZeroVectors int
}

// Vectors returns the transformed vectors in record order.
func (d *Dataset) Vectors() []mathutil.FeatureVector {
	out := make([]mathutil.FeatureVector, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Vec
	}
	return out
}

// Load reads a tab-separated file. Files ending in .gz or .zst are decompressed.
func Load(path string, units mathutil.Units) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	tee := io.TeeReader(f, h)
	src, closeSrc, err := decompress(path, tee)
	if err != nil {
		return nil, err
	}
	defer closeSrc()

	ds, err := Read(src, units)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	// Drain anything the parser did not consume so the hash covers the whole file.
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return nil, fmt.Errorf("hash input: %w", err)
	}
	ds.Path = path
	ds.Hash = fmt.Sprintf("%x", h.Sum(nil))
	return ds, nil
}

func decompress(path string, r io.Reader) (io.Reader, func(), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip reader: %w", err)
		}
		return gz, func() { gz.Close() }, nil
	case ".zst":
		// Single-threaded decoding keeps reads on the caller's goroutine, so the
		// hash reader is never drained concurrently.
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec, dec.Close, nil
	default:
		return r, func() {}, nil
	}
}

// maxLineBytes bounds a single input line.
const maxLineBytes = 1 << 20

// Read parses a header line followed by tab-separated rows whose last four
// columns are the main, talk, user and usertalk counts. Every line is one
// record; quotes carry no meaning. Blank lines are skipped.
func Read(r io.Reader, units mathutil.Units) (*Dataset, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	ds := &Dataset{Units: units}
	line := 0
	for sc.Scan() {
		line++
		if line == 1 {
			continue
		}
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		rec, err := parseRecord(strings.Split(text, "\t"))
		if err != nil {
			return nil, &RowError{Line: line, Err: err}
		}
		rec.Line = line

		rec.Vec = rec.Raw
		switch units {
		case mathutil.UnitsNormalized:
			if !rec.Vec.Normalize() {
				ds.ZeroVectors++
			}
		default:
			if err := rec.Raw.ValidateLogDomain(); err != nil {
				return nil, &RowError{Line: line, Err: err}
			}
			rec.Vec.LogTransform()
		}
		ds.Records = append(ds.Records, rec)
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, &RowError{Line: line + 1, Err: err}
		}
		return nil, fmt.Errorf("read input: %w", err)
	}

	if len(ds.Records) == 0 {
		return nil, ErrNoRecords
	}
	if ds.ZeroVectors > 0 {
		slog.Warn("Zero vectors left unnormalized", "count", ds.ZeroVectors)
	}
	return ds, nil
}

func parseRecord(fields []string) (Record, error) {
	var rec Record
	if len(fields) < mathutil.NumFields {
		return rec, fmt.Errorf("expected at least %d columns, got %d", mathutil.NumFields, len(fields))
	}
	if len(fields) > mathutil.NumFields {
		rec.Label = strings.TrimSpace(fields[0])
	}
	offset := len(fields) - mathutil.NumFields
	for i := 0; i < mathutil.NumFields; i++ {
		s := strings.TrimSpace(fields[offset+i])
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return rec, fmt.Errorf("column %s: %w", mathutil.FieldNames[i], err)
		}
		rec.Raw[i] = v
	}
	return rec, nil
}
