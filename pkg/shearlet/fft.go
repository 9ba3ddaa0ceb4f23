package shearlet

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// plane runs 2D Fourier transforms over a rows x columns image stored in
// row-major order. The row and column passes each use a gonum complex FFT.
type plane struct {
	rows, cols int
	rowFFT     *fourier.CmplxFFT
	colFFT     *fourier.CmplxFFT
	line       []complex128
}

func newPlane(rows, cols int) *plane {
	return &plane{
		rows:   rows,
		cols:   cols,
		rowFFT: fourier.NewCmplxFFT(rows),
		colFFT: fourier.NewCmplxFFT(cols),
		line:   make([]complex128, max(rows, cols)),
	}
}

// forward replaces data with its unnormalised spectrum.
func (p *plane) forward(data []complex128) {
	p.pass(data, p.colFFT.Coefficients, p.rowFFT.Coefficients)
}

// inverse replaces a spectrum with its image, undoing forward exactly.
func (p *plane) inverse(data []complex128) {
	p.pass(data, p.colFFT.Sequence, p.rowFFT.Sequence)
	scale := complex(1/float64(p.rows*p.cols), 0)
	for i := range data {
		data[i] *= scale
	}
}

// pass transforms every row with alongRow, then every column with
// alongColumn.
func (p *plane) pass(data []complex128, alongRow, alongColumn func(dst, src []complex128) []complex128) {
	for r := 0; r < p.rows; r++ {
		row := data[r*p.cols : (r+1)*p.cols]
		alongRow(row, row)
	}
	col := p.line[:p.rows]
	for c := 0; c < p.cols; c++ {
		for r := 0; r < p.rows; r++ {
			col[r] = data[r*p.cols+c]
		}
		alongColumn(col, col)
		for r := 0; r < p.rows; r++ {
			data[r*p.cols+c] = col[r]
		}
	}
}

// freq returns the column and row frequencies, in cycles per sample, of
// spectrum index i.
func (p *plane) freq(i int) (xi1, xi2 float64) {
	return p.colFFT.Freq(i % p.cols), p.rowFFT.Freq(i / p.cols)
}
