package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"
)

// ErrFilterDesign is returned when filter parameters cannot be realised.
var ErrFilterDesign = errors.New("dsp: invalid filter design")

const (
	ellipTol       = 2.2e-16
	ellipRootTol   = 1e-9
	ellipEpsilon   = 2.220446049250313e-16
	arcSNMaxIter   = 10
	arcSNImagCheck = 1e-7
	nomeSeriesLen  = 7
)

// Biquad is one second-order section in direct form, normalised so a0 = 1.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// DCGain returns the section's response at z = 1.
func (s Biquad) DCGain() float64 {
	return (s.B0 + s.B1 + s.B2) / (1 + s.A1 + s.A2)
}

// Response evaluates the cascade at the normalised frequency w (radians per
// sample).
func Response(sections []Biquad, w float64) complex128 {
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1
	h := complex(1, 0)
	for _, s := range sections {
		num := complex(s.B0, 0) + complex(s.B1, 0)*z1 + complex(s.B2, 0)*z2
		den := 1 + complex(s.A1, 0)*z1 + complex(s.A2, 0)*z2
		h *= num / den
	}
	return h
}

// EllipticLowpass designs a digital elliptic (Cauer) lowpass of the given
// order. rippleDB is the passband ripple, stopDB the minimum stopband
// attenuation and wn the passband edge as a fraction of Nyquist, 0 < wn < 1.
func EllipticLowpass(order int, rippleDB, stopDB, wn float64) ([]Biquad, error) {
	switch {
	case order <= 0:
		return nil, fmt.Errorf("%w: order %d", ErrFilterDesign, order)
	case !(wn > 0 && wn < 1):
		return nil, fmt.Errorf("%w: edge %g outside (0, 1)", ErrFilterDesign, wn)
	case rippleDB <= 0 || stopDB <= rippleDB:
		return nil, fmt.Errorf("%w: ripple %g dB, stopband %g dB", ErrFilterDesign, rippleDB, stopDB)
	}
	z, p, k, ok := ellipticPrototype(order, rippleDB, stopDB)
	if !ok {
		return nil, fmt.Errorf("%w: analog prototype", ErrFilterDesign)
	}
	dz, dp, dk, ok := bilinear(z, p, k, math.Tan(math.Pi*wn/2))
	if !ok {
		return nil, fmt.Errorf("%w: bilinear transform", ErrFilterDesign)
	}
	sections := sectionsFromZPK(dz, dp, dk)
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: no sections", ErrFilterDesign)
	}
	return sections, nil
}

// ellipticPrototype returns zeros, poles and gain of the analog lowpass
// prototype with its passband edge at 1 rad/s.
func ellipticPrototype(order int, rippleDB, stopDB float64) ([]complex128, []complex128, float64, bool) {
	epsSq := math.Expm1(math.Ln10 * rippleDB / 10)
	stopSq := math.Expm1(math.Ln10 * stopDB / 10)
	m1 := epsSq / stopSq
	if !(m1 > 0 && m1 < 1) {
		return nil, nil, 0, false
	}
	if order == 1 {
		p := -math.Sqrt(1 / epsSq)
		return nil, []complex128{complex(p, 0)}, -p, true
	}

	m := ellipticDegree(order, m1)
	if !(m > 0 && m < 1) {
		return nil, nil, 0, false
	}
	kmod := math.Sqrt(m)
	capK, _ := ellipK(kmod)
	val0, _ := ellipK(math.Sqrt(m1))
	if !finite(capK) || !finite(val0) || capK == 0 || val0 == 0 {
		return nil, nil, 0, false
	}

	var sn, cn, dn []float64
	var zeros []complex128
	for j := 1 - order%2; j < order; j += 2 {
		s, c, d, ok := jacobiSCD(float64(j)*capK/float64(order), kmod)
		if !ok {
			return nil, nil, 0, false
		}
		sn, cn, dn = append(sn, s), append(cn, c), append(dn, d)
		if math.Abs(s) > ellipEpsilon {
			z := complex(0, 1) / complex(kmod*s, 0)
			zeros = append(zeros, z, cmplx.Conj(z))
		}
	}

	r := arcSC1(1/math.Sqrt(epsSq), m1)
	if !(r > 0) || !finite(r) {
		return nil, nil, 0, false
	}
	v0 := capK * r / (float64(order) * val0)
	sv, cv, dv, ok := jacobiSCD(v0, math.Sqrt(1-m))
	if !ok {
		return nil, nil, 0, false
	}

	base := make([]complex128, len(sn))
	for i := range sn {
		den := 1 - (dn[i]*sv)*(dn[i]*sv)
		if math.Abs(den) <= ellipEpsilon {
			return nil, nil, 0, false
		}
		base[i] = -complex(cn[i]*dn[i]*sv*cv, sn[i]*dv) / complex(den, 0)
	}
	poles := append([]complex128(nil), base...)
	if order%2 == 1 {
		norm := 0.0
		for _, p := range base {
			norm += real(p * cmplx.Conj(p))
		}
		thr := ellipEpsilon * math.Sqrt(norm)
		for _, p := range base {
			if math.Abs(imag(p)) > thr {
				poles = append(poles, cmplx.Conj(p))
			}
		}
	} else {
		for _, p := range base {
			poles = append(poles, cmplx.Conj(p))
		}
	}

	prodZ := complex(1, 0)
	for _, z := range zeros {
		prodZ *= -z
	}
	prodP := complex(1, 0)
	for _, p := range poles {
		prodP *= -p
	}
	if prodZ == 0 {
		return nil, nil, 0, false
	}
	gain := real(prodP / prodZ)
	if order%2 == 0 {
		gain /= math.Sqrt(1 + epsSq)
	}
	if gain == 0 || !finite(gain) {
		return nil, nil, 0, false
	}
	return zeros, poles, gain, true
}

// bilinear maps an analog prototype through s = (1/k)(z-1)/(z+1).
func bilinear(z, p []complex128, gain, k float64) ([]complex128, []complex128, float64, bool) {
	degree := len(p) - len(z)
	if degree < 0 {
		return nil, nil, 0, false
	}
	kc := complex(k, 0)
	num, den := complex(1, 0), complex(1, 0)
	dz := make([]complex128, 0, len(p))
	for _, r := range z {
		d := 1 - kc*r
		if d == 0 {
			return nil, nil, 0, false
		}
		dz = append(dz, (1+kc*r)/d)
		num *= d
	}
	for i := 0; i < degree; i++ {
		dz = append(dz, -1)
	}
	dp := make([]complex128, 0, len(p))
	for _, r := range p {
		d := 1 - kc*r
		if d == 0 {
			return nil, nil, 0, false
		}
		dp = append(dp, (1+kc*r)/d)
		den *= d
	}
	kd := gain * real(num/den) * math.Pow(k, float64(degree))
	if kd == 0 || !finite(kd) {
		return nil, nil, 0, false
	}
	return dz, dp, kd, true
}

// sectionsFromZPK pairs conjugate roots into biquads, pole pairs nearest
// the unit circle first, and folds the gain into the first section.
func sectionsFromZPK(z, p []complex128, gain float64) []Biquad {
	poleGroups := groupRoots(p)
	if len(poleGroups) == 0 {
		return nil
	}
	sort.SliceStable(poleGroups, func(i, j int) bool {
		if len(poleGroups[i]) != len(poleGroups[j]) {
			return len(poleGroups[i]) > len(poleGroups[j])
		}
		return maxImag(poleGroups[i]) > maxImag(poleGroups[j])
	})

	var pairs, singles [][]complex128
	for _, g := range groupRoots(z) {
		if len(g) == 2 {
			pairs = append(pairs, g)
		} else {
			singles = append(singles, g)
		}
	}
	take := func(first, second *[][]complex128) []complex128 {
		for _, q := range []*[][]complex128{first, second} {
			if len(*q) > 0 {
				g := (*q)[0]
				*q = (*q)[1:]
				return g
			}
		}
		return nil
	}

	out := make([]Biquad, 0, len(poleGroups))
	for _, pg := range poleGroups {
		var zg []complex128
		if len(pg) == 2 {
			zg = take(&pairs, &singles)
		} else {
			zg = take(&singles, &pairs)
		}
		b1, b2 := quadratic(zg)
		a1, a2 := quadratic(pg)
		out = append(out, Biquad{B0: 1, B1: b1, B2: b2, A1: a1, A2: a2})
	}
	out[0].B0 *= gain
	out[0].B1 *= gain
	out[0].B2 *= gain
	return out
}

func groupRoots(roots []complex128) [][]complex128 {
	sorted := append([]complex128(nil), roots...)
	sort.Slice(sorted, func(i, j int) bool {
		if imag(sorted[i]) != imag(sorted[j]) {
			return imag(sorted[i]) > imag(sorted[j])
		}
		return real(sorted[i]) < real(sorted[j])
	})

	used := make([]bool, len(sorted))
	var groups [][]complex128
	var reals []float64
	for i, r := range sorted {
		if used[i] {
			continue
		}
		used[i] = true
		if math.Abs(imag(r)) <= ellipRootTol {
			reals = append(reals, real(r))
			continue
		}
		best, bestDist := -1, math.MaxFloat64
		for j, c := range sorted {
			if used[j] {
				continue
			}
			if d := cmplx.Abs(c - cmplx.Conj(r)); d < bestDist {
				best, bestDist = j, d
			}
		}
		if best >= 0 && bestDist <= 1e-4 {
			used[best] = true
			groups = append(groups, []complex128{r, sorted[best]})
		} else {
			groups = append(groups, []complex128{r})
		}
	}
	sort.Float64s(reals)
	for i := 0; i+1 < len(reals); i += 2 {
		groups = append(groups, []complex128{complex(reals[i], 0), complex(reals[i+1], 0)})
	}
	if len(reals)%2 == 1 {
		groups = append(groups, []complex128{complex(reals[len(reals)-1], 0)})
	}
	return groups
}

func maxImag(g []complex128) float64 {
	m := 0.0
	for _, r := range g {
		m = math.Max(m, math.Abs(imag(r)))
	}
	return m
}

// quadratic returns c1, c2 of (1 - r1 z^-1)(1 - r2 z^-1) = 1 + c1 z^-1 + c2 z^-2.
func quadratic(g []complex128) (float64, float64) {
	switch len(g) {
	case 0:
		return 0, 0
	case 1:
		return -real(g[0]), 0
	default:
		return -real(g[0] + g[1]), real(g[0] * g[1])
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
