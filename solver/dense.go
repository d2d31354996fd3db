package solver

import "math"

// maxRows bounds a joint block: six lock rows plus one limit row.
const maxRows = 7

// block is a small dense system over constraint rows, K = J M⁻¹ Jᵀ.
type block struct {
	n int
	m [maxRows][maxRows]float64
}

func newBlock(rows []jacobian, a, b *state) block {
	k := block{n: len(rows)}
	for i := range rows {
		for j := i; j < len(rows); j++ {
			v := rows[i].coupling(&rows[j], a, b)
			k.m[i][j] = v
			k.m[j][i] = v
		}
	}
	return k
}

// invert replaces k with its inverse by Gauss-Jordan elimination with
// partial pivoting. It reports false for singular or non-finite systems
// and leaves k undefined.
func (k *block) invert() bool {
	n := k.n
	var inv [maxRows][maxRows]float64
	scale := 0.0
	for i := 0; i < n; i++ {
		inv[i][i] = 1
		scale = math.Max(scale, math.Abs(k.m[i][i]))
	}
	if scale == 0 || !finite(scale) {
		return false
	}
	for c := 0; c < n; c++ {
		p := c
		for r := c + 1; r < n; r++ {
			if math.Abs(k.m[r][c]) > math.Abs(k.m[p][c]) {
				p = r
			}
		}
		if math.Abs(k.m[p][c]) <= 1e-12*scale {
			return false
		}
		k.m[c], k.m[p] = k.m[p], k.m[c]
		inv[c], inv[p] = inv[p], inv[c]
		d := 1 / k.m[c][c]
		for j := 0; j < n; j++ {
			k.m[c][j] *= d
			inv[c][j] *= d
		}
		for r := 0; r < n; r++ {
			if r == c || k.m[r][c] == 0 {
				continue
			}
			f := k.m[r][c]
			for j := 0; j < n; j++ {
				k.m[r][j] -= f * k.m[c][j]
				inv[r][j] -= f * inv[c][j]
			}
		}
	}
	k.m = inv
	return true
}

// mul returns k·x over the first n entries.
func (k *block) mul(x []float64) [maxRows]float64 {
	var out [maxRows]float64
	for i := 0; i < k.n; i++ {
		s := 0.0
		for j := 0; j < k.n; j++ {
			s += k.m[i][j] * x[j]
		}
		out[i] = s
	}
	return out
}
