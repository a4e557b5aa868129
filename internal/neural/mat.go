package neural

import "math"

// matMul returns A·B for A (m×k) and B (k×n).
func matMul(A, B [][]float64) [][]float64 {
	m, k, n := len(A), len(B), len(B[0])
	out := make([][]float64, m)
	for i := 0; i < m; i++ {
		row := make([]float64, n)
		ai := A[i]
		for p := 0; p < k; p++ {
			v := ai[p]
			if v == 0 {
				continue
			}
			bp := B[p]
			for j := 0; j < n; j++ {
				row[j] += v * bp[j]
			}
		}
		out[i] = row
	}
	return out
}

// matMulT1 returns Aᵀ·B for A (m×k) and B (m×n).
func matMulT1(A, B [][]float64) [][]float64 {
	m, k, n := len(A), len(A[0]), len(B[0])
	out := make([][]float64, k)
	for i := range out {
		out[i] = make([]float64, n)
	}
	for r := 0; r < m; r++ {
		ar, br := A[r], B[r]
		for i := 0; i < k; i++ {
			v := ar[i]
			if v == 0 {
				continue
			}
			row := out[i]
			for j := 0; j < n; j++ {
				row[j] += v * br[j]
			}
		}
	}
	return out
}

// matMulT2 returns A·Bᵀ for A (m×n) and B (k×n).
func matMulT2(A, B [][]float64) [][]float64 {
	m, k := len(A), len(B)
	out := make([][]float64, m)
	for i := 0; i < m; i++ {
		row := make([]float64, k)
		for j := 0; j < k; j++ {
			var sum float64
			bj := B[j]
			for p, v := range A[i] {
				sum += v * bj[p]
			}
			row[j] = sum
		}
		out[i] = row
	}
	return out
}

// addBias adds b to every row of Z in place.
func addBias(Z [][]float64, b []float64) [][]float64 {
	for i := range Z {
		for j := range Z[i] {
			Z[i][j] += b[j]
		}
	}
	return Z
}

func applyFunc(Z [][]float64, f func(float64) float64) [][]float64 {
	for i := range Z {
		for j := range Z[i] {
			Z[i][j] = f(Z[i][j])
		}
	}
	return Z
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// sigmoid clips the pre-activation so exp never overflows.
func sigmoid(z float64) float64 {
	if z > 500 {
		z = 500
	} else if z < -500 {
		z = -500
	}
	return 1 / (1 + math.Exp(-z))
}

func colMeans(M [][]float64) []float64 {
	out := make([]float64, len(M[0]))
	for _, row := range M {
		for j, v := range row {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(M))
	}
	return out
}

func cloneMat(M [][]float64) [][]float64 {
	out := make([][]float64, len(M))
	for i, row := range M {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func cloneMats(Ms [][][]float64) [][][]float64 {
	out := make([][][]float64, len(Ms))
	for i, m := range Ms {
		out[i] = cloneMat(m)
	}
	return out
}
