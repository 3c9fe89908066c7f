package dsp

import (
	"math"
)

// FFT computes the discrete Fourier transform of the input using the
// radix-2 Cooley-Tukey algorithm. The input length must be a power of two.
func FFT(input []float64) []complex128 {
	complexArray := make([]complex128, len(input))
	for i, v := range input {
		complexArray[i] = complex(v, 0)
	}
	return recursiveFFT(complexArray)
}

func recursiveFFT(complexArray []complex128) []complex128 {
	n := len(complexArray)
	if n <= 1 {
		return complexArray
	}

	even := make([]complex128, n/2)
	odd := make([]complex128, n/2)
	for i := 0; i < n/2; i++ {
		even[i] = complexArray[2*i]
		odd[i] = complexArray[2*i+1]
	}

	even = recursiveFFT(even)
	odd = recursiveFFT(odd)

	result := make([]complex128, n)
	for k := 0; k < n/2; k++ {
		t := complex(math.Cos(-2*math.Pi*float64(k)/float64(n)), math.Sin(-2*math.Pi*float64(k)/float64(n)))
		result[k] = even[k] + t*odd[k]
		result[k+n/2] = even[k] - t*odd[k]
	}

	return result
}

// Magnitudes returns the magnitude of the first n/2+1 FFT bins, the
// physically meaningful half of the spectrum for real input.
func Magnitudes(spectrum []complex128) []float64 {
	half := len(spectrum)/2 + 1
	mags := make([]float64, half)
	for i := 0; i < half; i++ {
		mags[i] = math.Hypot(real(spectrum[i]), imag(spectrum[i]))
	}
	return mags
}
