package mathutil

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Field indices of a FeatureVector.
const (
	FieldMain = iota
	FieldTalk
	FieldUser
	FieldUserTalk
	NumFields
)

// FieldNames lists the feature names in field-index order.
var FieldNames = [NumFields]string{"main", "talk", "user", "usertalk"}

// ErrLogDomain reports a field value outside the domain of log2(x+1).
var ErrLogDomain = errors.New("value outside log-transform domain (x <= -1)")

// FeatureVector holds the four namespace edit features of one record.
// It is a value type: assignment copies, so a center never aliases a data point.
type FeatureVector [NumFields]float64

// NewFeatureVector builds a vector from its named fields.
func NewFeatureVector(main, talk, user, userTalk float64) FeatureVector {
	return FeatureVector{main, talk, user, userTalk}
}

func (v FeatureVector) Main() float64     { return v[FieldMain] }
func (v FeatureVector) Talk() float64     { return v[FieldTalk] }
func (v FeatureVector) User() float64     { return v[FieldUser] }
func (v FeatureVector) UserTalk() float64 { return v[FieldUserTalk] }

// FieldIndex returns the index of the named field.
func FieldIndex(name string) (int, bool) {
	for i, n := range FieldNames {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// Get returns the value of the named field.
func (v FeatureVector) Get(name string) (float64, bool) {
	i, ok := FieldIndex(name)
	if !ok {
		return 0, false
	}
	return v[i], true
}

// Copy returns an independent copy of v.
func (v FeatureVector) Copy() FeatureVector {
	return v
}

// Equal reports whether all fields are exactly equal.
func (v FeatureVector) Equal(o FeatureVector) bool {
	return v == o
}

// DistanceSquared returns the squared Euclidean distance between v and o.
func (v FeatureVector) DistanceSquared(o FeatureVector) float64 {
	var sum float64
	for i := range v {
		d := v[i] - o[i]
		sum += d * d
	}
	return sum
}

// Norm returns the Euclidean norm of v.
func (v FeatureVector) Norm() float64 {
	return floats.Norm(v[:], 2)
}

// Normalize scales v to unit length in place. A zero vector is left
// unchanged and Normalize reports false.
func (v *FeatureVector) Normalize() bool {
	n := v.Norm()
	if n == 0 {
		return false
	}
	floats.Scale(1/n, v[:])
	return true
}

// ValidateLogDomain returns ErrLogDomain if any field is <= -1.
func (v FeatureVector) ValidateLogDomain() error {
	for i, x := range v {
		if x <= -1 {
			return fmt.Errorf("%s=%g: %w", FieldNames[i], x, ErrLogDomain)
		}
	}
	return nil
}

// LogTransform replaces each field x with log2(x+1) in place.
// Fields <= -1 become NaN or -Inf; use ValidateLogDomain to reject them first.
func (v *FeatureVector) LogTransform() {
	for i, x := range v {
		v[i] = math.Log2(x + 1)
	}
}

// InverseLogTransform replaces each field x with 2^x - 1 in place.
func (v *FeatureVector) InverseLogTransform() {
	for i, x := range v {
		v[i] = math.Exp2(x) - 1
	}
}

// Scale divides every field by divisor in place. Callers pass a non-zero divisor.
func (v *FeatureVector) Scale(divisor float64) {
	for i := range v {
		v[i] /= divisor
	}
}

// Add accumulates o into v.
func (v *FeatureVector) Add(o FeatureVector) {
	floats.Add(v[:], o[:])
}

// Mean returns the elementwise mean of vs. The mean of no vectors is the zero vector.
func Mean(vs []FeatureVector) FeatureVector {
	var acc FeatureVector
	if len(vs) == 0 {
		return acc
	}
	for _, v := range vs {
		acc.Add(v)
	}
	acc.Scale(float64(len(vs)))
	return acc
}

func (v FeatureVector) String() string {
	var b strings.Builder
	for i, name := range FieldNames {
		if i > 0 {
			b.WriteByte('\t')
		}
		fmt.Fprintf(&b, "%s:%g", name, v[i])
	}
	return b.String()
}
