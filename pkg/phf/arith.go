/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package phf

import (
	"math"
	"math/bits"
)

// maxPrime32 is the largest prime that fits in 32 bits.
const maxPrime32 = 4294967291

// PowerUp rounds n up to the next power of two. PowerUp(0) and values that
// overflow 64 bits yield 0.
func PowerUp(n uint64) uint64 {
	if n == 0 {
		return 0
	}

	shift := bits.Len64(n - 1)
	if shift >= 64 {
		return 0
	}

	return 1 << shift
}

// PrimeUp returns the smallest prime >= n, or 0 when no such prime fits in
// 32 bits.
func PrimeUp(n uint64) uint64 {
	if n > maxPrime32 {
		return 0
	}

	for n <= maxPrime32 {
		if IsPrime(n) {
			return n
		}
		n++
	}

	return 0
}

// IsPrime reports whether n is prime. The answer is deterministic for every
// n below 2^32.
func IsPrime(n uint64) bool {
	small := [8]bool{false, false, true, true, false, true, false, true}
	if n < uint64(len(small)) {
		return small[n]
	}

	for _, p := range []uint64{2, 3, 5, 7} {
		if n%p == 0 {
			return false
		}
	}

	return rabinMiller(n)
}

// rabinMiller runs the deterministic witness set for 32-bit inputs: {2} below
// 2047 and {2, 7, 61} otherwise.
func rabinMiller(n uint64) bool {
	d := n - 1
	s := 0
	for d&1 == 0 {
		d >>= 1
		s++
	}

	witnesses := []uint64{2, 7, 61}
	if n < 2047 {
		witnesses = witnesses[:1]
	}

	for _, a := range witnesses {
		if a%n == 0 {
			continue
		}
		if !witness(a, d, s, n) {
			return false
		}
	}

	return true
}

// witness reports whether n passes the strong probable prime test to base a.
func witness(a, d uint64, s int, n uint64) bool {
	x := powMod(a, d, n)
	if x == 1 || x == n-1 {
		return true
	}

	for i := 1; i < s; i++ {
		x = mulMod(x, x, n)
		if x == n-1 {
			return true
		}
		if x == 1 {
			return false
		}
	}

	return false
}

func mulMod(a, b, m uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	return bits.Rem64(hi, lo, m)
}

func powMod(base, exp, m uint64) uint64 {
	result := uint64(1)
	base %= m
	for exp > 0 {
		if exp&1 == 1 {
			result = mulMod(result, base, m)
		}
		base = mulMod(base, base, m)
		exp >>= 1
	}

	return result
}

// Sizes computes the bucket count r and the output size m for n keys with an
// average of l keys per bucket and a load factor of a percent. nodiv selects
// power-of-two sizes, otherwise both are rounded up to primes.
// It returns ErrRange when either size does not fit in 32 bits.
func Sizes(n, l, a uint64, nodiv bool) (r, m uint32, err error) {
	n1 := max(n, 1)
	l1 := max(l, 1)
	a1 := max(min(a, 100), 1)

	var r64, m64 uint64
	if nodiv {
		r64 = PowerUp(n1 / min(l1, n1))
		m64 = PowerUp(n1 * 100 / a1)
	} else {
		r64 = PrimeUp((n1 + l1 - 1) / l1)
		m64 = PrimeUp(n1 * 100 / a1)
	}

	if r64 == 0 || m64 == 0 || r64 > math.MaxUint32 || m64 > math.MaxUint32 {
		return 0, 0, ErrRange
	}

	return uint32(r64), uint32(m64), nil
}

// reduce maps a 32-bit hash into [0, size) with a mask when nodiv is set,
// otherwise with a modulo.
func reduce(h, size uint32, nodiv bool) uint32 {
	if nodiv {
		return h & (size - 1)
	}

	return h % size
}
