// Package canvas provides raw image row buffers for backends that assemble
// screen updates before encoding.
package canvas

import "errors"

var ErrInvalidDimensions = errors.New("canvas: invalid buffer dimensions")

// AllocRows returns h rows of w*bpp bytes backed by one contiguous
// allocation. bpp is 3 for RGB data, 4 for RGBA.
func AllocRows(w, h, bpp int) ([][]byte, error) {
	if w <= 0 || h <= 0 || bpp <= 0 {
		return nil, ErrInvalidDimensions
	}
	stride := w * bpp
	backing := make([]byte, stride*h)
	rows := make([][]byte, h)
	for i := range rows {
		rows[i] = backing[i*stride : (i+1)*stride : (i+1)*stride]
	}
	return rows, nil
}
