package facematch

import (
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// ErrDescriptorLength is returned when a vector does not have exactly 128 components.
var ErrDescriptorLength = errors.New("descriptor must have 128 components")

// Descriptor is a 128-dimensional face embedding. It is a value type: copies
// never alias, so a descriptor cannot change after it has been created.
type Descriptor [constants.DescriptorLength]float32

// DescriptorFromSlice validates the length and copies v into a Descriptor.
func DescriptorFromSlice(v []float32) (Descriptor, error) {
	var d Descriptor
	if len(v) != len(d) {
		return d, fmt.Errorf("%w: got %d", ErrDescriptorLength, len(v))
	}
	copy(d[:], v)
	return d, nil
}

// DescriptorFromFloat64 is DescriptorFromSlice for float64 input (JSON, pgvector).
func DescriptorFromFloat64(v []float64) (Descriptor, error) {
	var d Descriptor
	if len(v) != len(d) {
		return d, fmt.Errorf("%w: got %d", ErrDescriptorLength, len(v))
	}
	for i, x := range v {
		d[i] = float32(x)
	}
	return d, nil
}

// Slice returns a copy of the components.
func (d Descriptor) Slice() []float32 {
	out := make([]float32, len(d))
	copy(out, d[:])
	return out
}

// EuclideanDistance returns the L2 distance between two descriptors.
func EuclideanDistance(a, b Descriptor) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
