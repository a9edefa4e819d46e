package dataset

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oho/wpcluster/internal/mathutil"
)

const sample = "user\tregistered\tmain\ttalk\tuser\tusertalk\n" +
	"Alice\t2009\t0\t1\t3\t7\n" +
	"\n" +
	"Bob\t2012\t1023\t0\t0\t1\n"

func TestReadLogUnits(t *testing.T) {
	ds, err := Read(strings.NewReader(sample), mathutil.UnitsLog)
	require.NoError(t, err)
	require.Len(t, ds.Records, 2)

	alice := ds.Records[0]
	assert.Equal(t, "Alice", alice.Label)
	assert.Equal(t, 2, alice.Line)
	assert.Equal(t, mathutil.NewFeatureVector(0, 1, 3, 7), alice.Raw)
	assert.Equal(t, mathutil.NewFeatureVector(0, 1, 2, 3), alice.Vec)

	bob := ds.Records[1]
	assert.Equal(t, 4, bob.Line)
	assert.InDelta(t, 10.0, bob.Vec.Main(), 1e-12)

	assert.Equal(t, []mathutil.FeatureVector{alice.Vec, bob.Vec}, ds.Vectors())
}

func TestReadNormalized(t *testing.T) {
	in := "h\n3\t4\t0\t0\n0\t0\t0\t0\n"
	ds, err := Read(strings.NewReader(in), mathutil.UnitsNormalized)
	require.NoError(t, err)
	require.Len(t, ds.Records, 2)

	assert.Empty(t, ds.Records[0].Label)
	assert.InDelta(t, 1.0, ds.Records[0].Vec.Norm(), 1e-12)
	assert.Equal(t, mathutil.FeatureVector{}, ds.Records[1].Vec)
	assert.Equal(t, 1, ds.ZeroVectors)
}

func TestReadQuotesAreLiteral(t *testing.T) {
	in := "user\tmain\ttalk\tuser\tusertalk\n" +
		"\"Quoted\" Name\t1\t1\t1\t1\n" +
		"\"Bob\t5\t0\t0\t0\n" +
		"carol\t7\t0\t0\t0\n" +
		"dave\"\t9\t0\t0\t0\r\n"
	ds, err := Read(strings.NewReader(in), mathutil.UnitsNormalized)
	require.NoError(t, err)
	require.Len(t, ds.Records, 4)

	want := []string{`"Quoted" Name`, `"Bob`, "carol", `dave"`}
	for i, rec := range ds.Records {
		assert.Equal(t, want[i], rec.Label)
		assert.Equal(t, i+2, rec.Line)
	}
	assert.Equal(t, mathutil.NewFeatureVector(5, 0, 0, 0), ds.Records[1].Raw)
	assert.Equal(t, mathutil.NewFeatureVector(9, 0, 0, 0), ds.Records[3].Raw)
}

func TestReadLineTooLong(t *testing.T) {
	in := "h\n1\t2\t3\t4\n" + strings.Repeat("x", maxLineBytes+1) + "\t1\t2\t3\t4\n"
	_, err := Read(strings.NewReader(in), mathutil.UnitsLog)
	var re *RowError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Line)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
	}{
		{"short row", "h\n1\t2\t3\n", 2},
		{"bad number", "h\n1\t2\t3\t4\nx\t1\tmany\t3\t4\n", 3},
		{"log domain", "h\nx\t1\t-1\t3\t4\n", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input), mathutil.UnitsLog)
			var re *RowError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.line, re.Line)
		})
	}

	_, err := Read(strings.NewReader("h\nx\t1\t-1\t3\t4\n"), mathutil.UnitsLog)
	assert.ErrorIs(t, err, mathutil.ErrLogDomain)

	_, err = Read(strings.NewReader("header only\n"), mathutil.UnitsLog)
	assert.ErrorIs(t, err, ErrNoRecords)

	_, err = Read(strings.NewReader(""), mathutil.UnitsLog)
	assert.ErrorIs(t, err, ErrNoRecords)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadPlainAndCompressed(t *testing.T) {
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zst := enc.EncodeAll([]byte(sample), nil)
	require.NoError(t, enc.Close())

	files := map[string][]byte{
		"namespaces.tsv":     []byte(sample),
		"namespaces.tsv.gz":  gz.Bytes(),
		"namespaces.tsv.zst": zst,
	}
	for name, data := range files {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, name, data)
			ds, err := Load(path, mathutil.UnitsLog)
			require.NoError(t, err)
			assert.Len(t, ds.Records, 2)
			assert.Equal(t, path, ds.Path)
			assert.Equal(t, fmt.Sprintf("%x", sha256.Sum256(data)), ds.Hash)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.tsv"), mathutil.UnitsLog)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
