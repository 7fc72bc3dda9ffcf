package verify

import (
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// lagrangeCoefficients returns L_j(at) for every x_j in xs.
func lagrangeCoefficients(g kyber.Group, xs []int64, at int64) ([]kyber.Scalar, error) {
	seen := make(map[int64]bool, len(xs))
	for _, x := range xs {
		if seen[x] {
			return nil, xerrors.Errorf("x=%d: %w", x, ErrDuplicateX)
		}
		seen[x] = true
	}

	target := g.Scalar().SetInt64(at)
	coeffs := make([]kyber.Scalar, len(xs))
	for j, xj := range xs {
		num := g.Scalar().One()
		den := g.Scalar().One()
		sj := g.Scalar().SetInt64(xj)
		for m, xm := range xs {
			if m == j {
				continue
			}
			sm := g.Scalar().SetInt64(xm)
			num.Mul(num, g.Scalar().Sub(target, sm))
			den.Mul(den, g.Scalar().Sub(sj, sm))
		}
		coeffs[j] = num.Div(num, den)
	}
	return coeffs, nil
}

// InterpolateScalarAt evaluates at x=at the unique polynomial of degree
// len(xs)-1 through the points (xs[i], ys[i]).
func InterpolateScalarAt(g kyber.Group, xs []int64, ys []kyber.Scalar, at int64) (kyber.Scalar, error) {
	if len(xs) != len(ys) || len(xs) == 0 {
		return nil, xerrors.Errorf("%d xs for %d ys: %w", len(xs), len(ys), ErrNotEnough)
	}
	coeffs, err := lagrangeCoefficients(g, xs, at)
	if err != nil {
		return nil, err
	}
	acc := g.Scalar().Zero()
	for i, c := range coeffs {
		acc.Add(acc, g.Scalar().Mul(c, ys[i]))
	}
	return acc, nil
}

// InterpolatePointAt is InterpolateScalarAt in the exponent.
func InterpolatePointAt(g kyber.Group, xs []int64, ys []kyber.Point, at int64) (kyber.Point, error) {
	if len(xs) != len(ys) || len(xs) == 0 {
		return nil, xerrors.Errorf("%d xs for %d ys: %w", len(xs), len(ys), ErrNotEnough)
	}
	coeffs, err := lagrangeCoefficients(g, xs, at)
	if err != nil {
		return nil, err
	}
	acc := g.Point().Null()
	for i, c := range coeffs {
		acc.Add(acc, g.Point().Mul(c, ys[i]))
	}
	return acc, nil
}
