package report

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/oho/wpcluster/internal/mathutil"
)

// Stats describes the spread of one column across centers.
type Stats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// Summary aggregates centers per field, plus cluster sizes.
type Summary struct {
	Clusters int              `json:"clusters"`
	Points   int              `json:"points"`
	Fields   map[string]Stats `json:"fields"`
	Sizes    Stats            `json:"sizes"`
}

func columnStats(col []float64) Stats {
	if len(col) == 0 {
		return Stats{}
	}
	return Stats{
		Min:  floats.Min(col),
		Max:  floats.Max(col),
		Mean: stat.Mean(col, nil),
	}
}

func Summarize(centers []Center) Summary {
	s := Summary{Clusters: len(centers), Fields: make(map[string]Stats, mathutil.NumFields)}

	sizes := make([]float64, len(centers))
	for i, c := range centers {
		sizes[i] = float64(c.Size)
		s.Points += c.Size
	}
	s.Sizes = columnStats(sizes)

	col := make([]float64, len(centers))
	for fi, name := range mathutil.FieldNames {
		for i, c := range centers {
			col[i] = c.Vector()[fi]
		}
		s.Fields[name] = columnStats(col)
	}
	return s
}
