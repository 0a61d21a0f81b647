package method

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const rootTolerance = 1e-9

func (s *Sine) at(secOfDay float64) float64 {
	angle := secOfDay / secondsPerDay * 360
	return s.Amplitude*math.Sin(degToRad(s.Frequency*(angle-s.ShiftAngle))) + s.ShiftY
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// dayFraction shifts secOfDay by the shift angle and wraps it to [0, 1).
func (b *Bezier) dayFraction(secOfDay float64) float64 {
	shifted := math.Mod(secOfDay+b.ShiftAngle/360*secondsPerDay, secondsPerDay)
	if shifted < 0 {
		shifted += secondsPerDay
	}
	return shifted / secondsPerDay
}

// xAt maps a time of day onto the x axis of the curve.
func (b *Bezier) xAt(secOfDay float64) float64 {
	return b.dayFraction(secOfDay)*(b.P0.X-b.P3.X) + b.P3.X
}

func (b *Bezier) at(secOfDay float64) (float64, error) {
	x := b.xAt(secOfDay)
	t, err := b.paramForX(x)
	if err != nil {
		return 0, err
	}
	return b.point(t).Y, nil
}

// point evaluates the curve at parameter t.
func (b *Bezier) point(t float64) Point {
	u := 1 - t
	c0 := u * u * u
	c1 := 3 * u * u * t
	c2 := 3 * u * t * t
	c3 := t * t * t
	return Point{
		X: c0*b.P0.X + c1*b.P1.X + c2*b.P2.X + c3*b.P3.X,
		Y: c0*b.P0.Y + c1*b.P1.Y + c2*b.P2.Y + c3*b.P3.Y,
	}
}

// paramForX finds t in [0, 1] with x(t) == x.
func (b *Bezier) paramForX(x float64) (float64, error) {
	coeffs := []float64{
		-b.P0.X + 3*b.P1.X - 3*b.P2.X + b.P3.X,
		3*b.P0.X - 6*b.P1.X + 3*b.P2.X,
		-3*b.P0.X + 3*b.P1.X,
		b.P0.X - x,
	}
	roots, err := polyRoots(coeffs)
	if err != nil {
		return 0, err
	}
	found := false
	var t float64
	for _, r := range roots {
		if math.Abs(imag(r)) > rootTolerance {
			continue
		}
		re := real(r)
		if re < -rootTolerance || re > 1+rootTolerance {
			continue
		}
		t = math.Min(math.Max(re, 0), 1)
		found = true
	}
	if !found {
		return 0, errors.Errorf("no root in [0, 1] for x=%v", x)
	}
	return t, nil
}

// polyRoots returns the roots of the polynomial with coefficients from the highest degree down,
// as the eigenvalues of its companion matrix. Leading zero coefficients are dropped.
func polyRoots(coeffs []float64) ([]complex128, error) {
	for len(coeffs) > 0 && coeffs[0] == 0 {
		coeffs = coeffs[1:]
	}
	degree := len(coeffs) - 1
	if degree < 1 {
		return nil, errors.New("polynomial has no roots")
	}
	if degree == 1 {
		return []complex128{complex(-coeffs[1]/coeffs[0], 0)}, nil
	}

	companion := mat.NewDense(degree, degree, nil)
	for col := 0; col < degree; col++ {
		companion.Set(0, col, -coeffs[col+1]/coeffs[0])
	}
	for row := 1; row < degree; row++ {
		companion.Set(row, row-1, 1)
	}

	var eig mat.Eigen
	if ok := eig.Factorize(companion, mat.EigenNone); !ok {
		return nil, errors.New("eigen decomposition did not converge")
	}
	return eig.Values(nil), nil
}
