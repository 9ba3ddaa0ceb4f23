package models

import "fmt"

// Shape describes the extent of a grid. 2D images use Slices == 1.
type Shape struct {
	Slices  int
	Rows    int
	Columns int
}

// Shape2D returns the shape of a single-slice image.
func Shape2D(rows, columns int) Shape {
	return Shape{Slices: 1, Rows: rows, Columns: columns}
}

// Len returns the number of sites in the grid.
func (s Shape) Len() int { return s.Slices * s.Rows * s.Columns }

// SliceSize returns the number of sites in one slice.
func (s Shape) SliceSize() int { return s.Rows * s.Columns }

// Valid reports whether every dimension is positive.
func (s Shape) Valid() bool { return s.Slices > 0 && s.Rows > 0 && s.Columns > 0 }

// Contains reports whether (slice, row, column) lies inside the grid.
func (s Shape) Contains(sl, r, c int) bool {
	return sl >= 0 && sl < s.Slices && r >= 0 && r < s.Rows && c >= 0 && c < s.Columns
}

// Index returns the row-major-by-slice index of (slice, row, column).
func (s Shape) Index(sl, r, c int) int {
	return sl*s.Rows*s.Columns + r*s.Columns + c
}

// Coord is the inverse of Index.
func (s Shape) Coord(i int) (sl, r, c int) {
	sliceSize := s.Rows * s.Columns
	sl = i / sliceSize
	rem := i - sl*sliceSize
	r = rem / s.Columns
	c = rem - r*s.Columns
	return sl, r, c
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Slices, s.Rows, s.Columns)
}

// Volume is an intensity (or feature) grid stored as a flat slice in
// row-major-by-slice order.
type Volume struct {
	Shape
	Data []float64
}

// NewVolume allocates a zeroed volume.
func NewVolume(shape Shape) *Volume {
	return &Volume{Shape: shape, Data: make([]float64, shape.Len())}
}

// At returns the value at (slice, row, column).
func (v *Volume) At(sl, r, c int) float64 { return v.Data[v.Index(sl, r, c)] }

// Set stores a value at (slice, row, column).
func (v *Volume) Set(sl, r, c int, value float64) { v.Data[v.Index(sl, r, c)] = value }

// Mask flags the sites taking part in the segmentation. A nil mask means
// every site is active.
type Mask []bool

// Active reports whether site i is active.
func (m Mask) Active(i int) bool { return m == nil || m[i] }

// Count returns the number of active sites among n sites.
func (m Mask) Count(n int) int {
	if m == nil {
		return n
	}
	count := 0
	for _, on := range m {
		if on {
			count++
		}
	}
	return count
}

// ByteVolume is a per-site byte grid, used for the 3D support volume.
type ByteVolume struct {
	Shape
	Data []uint8
}

// NewByteVolume allocates a zeroed byte volume.
func NewByteVolume(shape Shape) *ByteVolume {
	return &ByteVolume{Shape: shape, Data: make([]uint8, shape.Len())}
}

// LabelField holds one class label per site.
type LabelField struct {
	Shape
	Labels []uint8
}

// NewLabelField allocates a label field with every site at label 0.
func NewLabelField(shape Shape) *LabelField {
	return &LabelField{Shape: shape, Labels: make([]uint8, shape.Len())}
}

// Clone returns a deep copy of the label field.
func (l *LabelField) Clone() *LabelField {
	out := NewLabelField(l.Shape)
	copy(out.Labels, l.Labels)
	return out
}

// Histogram counts the sites carrying each label in [0, numClasses).
func (l *LabelField) Histogram(numClasses int) []int {
	hist := make([]int, numClasses)
	for _, label := range l.Labels {
		if int(label) < numClasses {
			hist[label]++
		}
	}
	return hist
}
