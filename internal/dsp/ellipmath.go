package dsp

import (
	"math"
	"math/cmplx"
)

// landen returns the descending Landen sequence of moduli for k.
func landen(k float64) []float64 {
	if k == 0 || k == 1 {
		return []float64{k}
	}
	var v []float64
	for k > ellipTol {
		t := k / (1 + math.Sqrt((1-k)*(1+k)))
		k = t * t
		v = append(v, k)
	}
	return v
}

func landenK(v []float64) float64 {
	prod := 1.0
	for _, x := range v {
		prod *= 1 + x
	}
	return prod * math.Pi / 2
}

// ellipK returns the complete elliptic integrals K(k) and K'(k).
func ellipK(k float64) (float64, float64) {
	const kmin = 1e-6
	kmax := math.Sqrt(1 - kmin*kmin)

	var K, Kp float64
	switch {
	case k == 1:
		K = math.Inf(1)
	case k > kmax:
		kp := math.Sqrt((1 - k) * (1 + k))
		l := -math.Log(kp / 4)
		K = l + (l-1)*kp*kp/4
	default:
		K = landenK(landen(k))
	}
	switch {
	case k == 0:
		Kp = math.Inf(1)
	case k < kmin:
		l := -math.Log(k / 4)
		Kp = l + (l-1)*k*k/4
	default:
		Kp = landenK(landen(math.Sqrt((1 - k) * (1 + k))))
	}
	return K, Kp
}

// sne evaluates sn(u*K, k) for u normalised to the quarter period.
func sne(u, k float64) float64 {
	v := landen(k)
	w := math.Sin(u * math.Pi / 2)
	for i := len(v) - 1; i >= 0; i-- {
		w = (1 + v[i]) * w / (1 + v[i]*w*w)
	}
	return w
}

// cde evaluates cd(u*K, k).
func cde(u complex128, k float64) complex128 {
	v := landen(k)
	w := cmplx.Cos(u * math.Pi / 2)
	for i := len(v) - 1; i >= 0; i-- {
		w = (1 + complex(v[i], 0)) * w / (1 + complex(v[i], 0)*w*w)
	}
	return w
}

// jacobiSCD returns sn, cn and dn of the real argument u with modulus k.
func jacobiSCD(u, k float64) (float64, float64, float64, bool) {
	if !(k >= 0 && k < 1) {
		return 0, 0, 0, false
	}
	K, _ := ellipK(k)
	if K == 0 || !finite(K) {
		return 0, 0, 0, false
	}
	un := u / K
	sn := sne(un, k)
	if !finite(sn) {
		return 0, 0, 0, false
	}
	dn2 := 1 - k*k*sn*sn
	if dn2 < -1e-12 {
		return 0, 0, 0, false
	}
	dn := math.Sqrt(math.Max(dn2, 0))
	cn := real(cde(complex(un, 0), k)) * dn
	return sn, cn, dn, true
}

// arcSN inverts sn for parameter m using descending Landen transforms.
func arcSN(w complex128, m float64) complex128 {
	if m < 0 || m > 1 {
		return cmplx.NaN()
	}
	k := complex(math.Sqrt(m), 0)
	if real(k) == 1 {
		return cmplx.Atanh(w)
	}
	complement := func(x complex128) complex128 { return cmplx.Sqrt((1 - x) * (1 + x)) }

	ks := []complex128{k}
	for i := 1; i < arcSNMaxIter; i++ {
		kn := ks[len(ks)-1]
		if cmplx.Abs(kn) == 0 {
			break
		}
		kp := complement(kn)
		ks = append(ks, (1-kp)/(1+kp))
	}
	K := math.Pi / 2
	for _, x := range ks[1:] {
		K *= real(1 + x)
	}
	for i := 0; i+1 < len(ks); i++ {
		den := (1 + ks[i+1]) * (1 + complement(ks[i]*w))
		if den == 0 {
			return cmplx.NaN()
		}
		w = 2 * w / den
	}
	return complex(K, 0) * complex(2/math.Pi, 0) * cmplx.Asin(w)
}

// arcSC1 returns the real u with sc(u, sqrt(1-m)) = w.
func arcSC1(w, m float64) float64 {
	z := arcSN(complex(0, w), m)
	if math.Abs(real(z)) > arcSNImagCheck*math.Max(1, math.Abs(imag(z))) {
		return math.NaN()
	}
	return imag(z)
}

// ellipticDegree solves the degree equation for the modulus parameter m
// given the order and the selectivity parameter m1, using the nome series.
func ellipticDegree(order int, m1 float64) float64 {
	K1, _ := ellipK(math.Sqrt(m1))
	K1p, _ := ellipK(math.Sqrt(1 - m1))
	if K1 <= 0 || K1p <= 0 || !finite(K1) || !finite(K1p) {
		return math.NaN()
	}
	q := math.Pow(math.Exp(-math.Pi*K1p/K1), 1/float64(order))

	num, den := 0.0, 1.0
	for i := 0; i < nomeSeriesLen; i++ {
		num += math.Pow(q, float64(i*(i+1)))
	}
	for i := 1; i < nomeSeriesLen; i++ {
		den += 2 * math.Pow(q, float64(i*i))
	}
	return 16 * q * math.Pow(num/den, 4)
}
