package models

// Border is a symmetric padding width per axis.
type Border struct {
	Slices  int
	Rows    int
	Columns int
}

// UniformBorder returns a border of width w on every axis of shape. Single
// slice grids are never padded along the slice axis.
func UniformBorder(shape Shape, w int) Border {
	b := Border{Slices: w, Rows: w, Columns: w}
	if shape.Slices == 1 {
		b.Slices = 0
	}
	return b
}

// Grow returns the shape enlarged by the border.
func (b Border) Grow(s Shape) Shape {
	return Shape{
		Slices:  s.Slices + 2*b.Slices,
		Rows:    s.Rows + 2*b.Rows,
		Columns: s.Columns + 2*b.Columns,
	}
}

// IsZero reports whether the border adds no sites.
func (b Border) IsZero() bool { return b.Slices == 0 && b.Rows == 0 && b.Columns == 0 }

// mirror reflects an out-of-range coordinate back into [0, n).
func mirror(x, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	x %= period
	if x < 0 {
		x += period
	}
	if x >= n {
		x = period - x
	}
	return x
}

// PadMirrored grows v by the border, filling new sites by reflection.
func PadMirrored(v *Volume, b Border) *Volume {
	out := NewVolume(b.Grow(v.Shape))
	for s := 0; s < out.Slices; s++ {
		ss := mirror(s-b.Slices, v.Slices)
		for r := 0; r < out.Rows; r++ {
			rr := mirror(r-b.Rows, v.Rows)
			for c := 0; c < out.Columns; c++ {
				cc := mirror(c-b.Columns, v.Columns)
				out.Data[out.Index(s, r, c)] = v.Data[v.Index(ss, rr, cc)]
			}
		}
	}
	return out
}

// PadMask grows the mask by the border, new sites are inactive. A nil mask
// becomes an explicit mask so padding sites stay inactive.
func PadMask(m Mask, shape Shape, b Border) Mask {
	grown := b.Grow(shape)
	out := make(Mask, grown.Len())
	for s := 0; s < shape.Slices; s++ {
		for r := 0; r < shape.Rows; r++ {
			for c := 0; c < shape.Columns; c++ {
				out[grown.Index(s+b.Slices, r+b.Rows, c+b.Columns)] = m.Active(shape.Index(s, r, c))
			}
		}
	}
	return out
}

// PadBytes grows a byte volume by the border with zero-valued padding.
func PadBytes(v *ByteVolume, b Border) *ByteVolume {
	if v == nil {
		return nil
	}
	out := NewByteVolume(b.Grow(v.Shape))
	for s := 0; s < v.Slices; s++ {
		for r := 0; r < v.Rows; r++ {
			src := v.Index(s, r, 0)
			dst := out.Index(s+b.Slices, r+b.Rows, b.Columns)
			copy(out.Data[dst:dst+v.Columns], v.Data[src:src+v.Columns])
		}
	}
	return out
}

// CropLabels removes the border from a padded label field.
func CropLabels(l *LabelField, b Border) *LabelField {
	inner := Shape{
		Slices:  l.Slices - 2*b.Slices,
		Rows:    l.Rows - 2*b.Rows,
		Columns: l.Columns - 2*b.Columns,
	}
	out := NewLabelField(inner)
	for s := 0; s < inner.Slices; s++ {
		for r := 0; r < inner.Rows; r++ {
			src := l.Index(s+b.Slices, r+b.Rows, b.Columns)
			dst := inner.Index(s, r, 0)
			copy(out.Labels[dst:dst+inner.Columns], l.Labels[src:src+inner.Columns])
		}
	}
	return out
}

// CropVolume removes the border from a padded volume.
func CropVolume(v *Volume, b Border) *Volume {
	inner := Shape{
		Slices:  v.Slices - 2*b.Slices,
		Rows:    v.Rows - 2*b.Rows,
		Columns: v.Columns - 2*b.Columns,
	}
	out := NewVolume(inner)
	for s := 0; s < inner.Slices; s++ {
		for r := 0; r < inner.Rows; r++ {
			src := v.Index(s+b.Slices, r+b.Rows, b.Columns)
			dst := inner.Index(s, r, 0)
			copy(out.Data[dst:dst+inner.Columns], v.Data[src:src+inner.Columns])
		}
	}
	return out
}
