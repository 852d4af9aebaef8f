package symcore

// ============================================================
// Matrix helpers
// ============================================================

// grid is an unpacked matrix: row-major entries plus shape.
type grid struct {
	rows, cols int
	data       []Expr
}

func (g grid) at(i, j int) Expr { return g.data[i*g.cols+j] }

func (k *Kernel) grid(e Expr) grid {
	n := k.node(e)
	if n.kind != KindMatrix {
		k.throw(newError(DimensionMismatch, "expected a matrix, got %s", n.kind))
	}
	return grid{rows: n.rows, cols: n.cols, data: n.ops}
}

func (k *Kernel) squareGrid(e Expr, op string) grid {
	g := k.grid(k.eval(e))
	if g.rows != g.cols {
		k.throw(newError(DimensionMismatch, "%s requires a square matrix, got %dx%d", op, g.rows, g.cols))
	}
	return g
}

// ============================================================
// Operations
// ============================================================

// Identity returns the n x n identity matrix.
func (k *Kernel) Identity(n int) (Expr, error) {
	return k.buildErr(func() Expr {
		if n <= 0 {
			k.throw(newError(InvalidMatrixSize, "identity of size %d", n))
		}
		entries := make([]Expr, n*n)
		for i := range entries {
			entries[i] = k.zero
		}
		for i := 0; i < n; i++ {
			entries[i*n+i] = k.one
		}
		return k.matrix(n, n, entries)
	})
}

func (k *Kernel) MatAdd(a, b Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		ga, gb := k.grid(k.eval(a)), k.grid(k.eval(b))
		if ga.rows != gb.rows || ga.cols != gb.cols {
			k.throw(newError(DimensionMismatch, "cannot add %dx%d and %dx%d matrices", ga.rows, ga.cols, gb.rows, gb.cols))
		}
		out := make([]Expr, len(ga.data))
		for i := range out {
			out[i] = k.evalSum([]Expr{ga.data[i], gb.data[i]}, true)
		}
		return k.eval(k.matrix(ga.rows, ga.cols, out))
	})
}

func (k *Kernel) MatMul(a, b Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		ga, gb := k.grid(k.eval(a)), k.grid(k.eval(b))
		if ga.cols != gb.rows {
			k.throw(newError(DimensionMismatch, "cannot multiply %dx%d by %dx%d", ga.rows, ga.cols, gb.rows, gb.cols))
		}
		out := make([]Expr, 0, ga.rows*gb.cols)
		terms := make([]Expr, ga.cols)
		for i := 0; i < ga.rows; i++ {
			for j := 0; j < gb.cols; j++ {
				for l := 0; l < ga.cols; l++ {
					terms[l] = k.evalProduct([]Expr{ga.at(i, l), gb.at(l, j)}, true, false)
				}
				out = append(out, k.evalSum(terms, true))
			}
		}
		return k.eval(k.matrix(ga.rows, gb.cols, out))
	})
}

// Scale multiplies every entry of m by s.
func (k *Kernel) Scale(m, s Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		g := k.grid(k.eval(m))
		s := k.eval(s)
		out := make([]Expr, len(g.data))
		for i, x := range g.data {
			out[i] = k.evalProduct([]Expr{s, x}, true, false)
		}
		return k.eval(k.matrix(g.rows, g.cols, out))
	})
}

func (k *Kernel) Transpose(m Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		g := k.grid(k.eval(m))
		out := make([]Expr, len(g.data))
		for i := 0; i < g.rows; i++ {
			for j := 0; j < g.cols; j++ {
				out[j*g.rows+i] = g.at(i, j)
			}
		}
		return k.eval(k.matrix(g.cols, g.rows, out))
	})
}

func (k *Kernel) Trace(m Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		g := k.squareGrid(m, "trace")
		diag := make([]Expr, g.rows)
		for i := range diag {
			diag[i] = g.at(i, i)
		}
		return k.evalSum(diag, true)
	})
}

// Det returns the determinant by cofactor expansion along the first row.
func (k *Kernel) Det(m Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		g := k.squareGrid(m, "det")
		return k.eval(k.det(g.data, g.rows))
	})
}

func (k *Kernel) det(data []Expr, n int) Expr {
	switch n {
	case 1:
		return data[0]
	case 2:
		return k.evalSum([]Expr{
			k.evalProduct([]Expr{data[0], data[3]}, true, false),
			k.evalProduct([]Expr{k.negOne, data[1], data[2]}, true, false),
		}, true)
	}
	terms := make([]Expr, 0, n)
	for j := 0; j < n; j++ {
		if data[j] == k.zero {
			continue
		}
		factors := []Expr{data[j], k.det(minor(data, n, 0, j), n-1)}
		if j%2 == 1 {
			factors = append(factors, k.negOne)
		}
		terms = append(terms, k.evalProduct(factors, true, false))
	}
	return k.evalSum(terms, true)
}

func minor(data []Expr, n, skipRow, skipCol int) []Expr {
	out := make([]Expr, 0, (n-1)*(n-1))
	for i := 0; i < n; i++ {
		if i == skipRow {
			continue
		}
		for j := 0; j < n; j++ {
			if j != skipCol {
				out = append(out, data[i*n+j])
			}
		}
	}
	return out
}

// Inverse returns adj(m)/det(m). A determinant proven zero is a
// singular-matrix error; one that is merely not proven nonzero is divided
// by symbolically.
func (k *Kernel) Inverse(m Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		g := k.squareGrid(m, "inverse")
		n := g.rows
		d := k.eval(k.det(g.data, n))
		if k.zeroTri(d) == True {
			k.throw(newError(SingularMatrix, "determinant is zero"))
		}
		inv := k.evalPow(d, k.negOne)
		if n == 1 {
			return k.eval(k.matrix(1, 1, []Expr{inv}))
		}
		out := make([]Expr, n*n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				factors := []Expr{inv, k.det(minor(g.data, n, i, j), n-1)}
				if (i+j)%2 == 1 {
					factors = append(factors, k.negOne)
				}
				// Transposed cofactor.
				out[j*n+i] = k.evalProduct(factors, true, false)
			}
		}
		return k.eval(k.matrix(n, n, out))
	})
}

// Jacobian returns the matrix of partial derivatives of fs with respect to
// xs.
func (k *Kernel) Jacobian(fs, xs []Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		if len(fs) == 0 || len(xs) == 0 {
			k.throw(newError(InvalidMatrixSize, "jacobian of %d functions in %d variables", len(fs), len(xs)))
		}
		out := make([]Expr, 0, len(fs)*len(xs))
		for _, f := range fs {
			f = k.eval(f)
			for _, x := range xs {
				if n := k.node(x); n.kind != KindSymbol {
					k.throw(newError(Unsupported, "cannot differentiate with respect to a %s", n.kind))
				}
				d := &differ{k: k, x: x, memo: make(map[Expr]Expr), deps: make(map[Expr]bool)}
				out = append(out, k.eval(d.diff(f)))
			}
		}
		return k.eval(k.matrix(len(fs), len(xs), out))
	})
}
