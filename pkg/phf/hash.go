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

import "math/bits"

// Round32 mixes one 32-bit block k1 into the running state h1, as in a
// MurmurHash3 x86_32 body round.
func Round32(k1, h1 uint32) uint32 {
	k1 *= 0xcc9e2d51
	k1 = bits.RotateLeft32(k1, 15)
	k1 *= 0x1b873593

	h1 ^= k1
	h1 = bits.RotateLeft32(h1, 13)
	h1 = h1*5 + 0xe6546b64

	return h1
}

// Round32Bytes folds p into h1 four bytes at a time. Blocks are packed
// big-endian and a 1-3 byte tail occupies the high bytes of a final block.
func Round32Bytes(p []byte, h1 uint32) uint32 {
	for len(p) >= 4 {
		k1 := uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
		h1 = Round32(k1, h1)
		p = p[4:]
	}

	var k1 uint32
	switch len(p) {
	case 3:
		k1 |= uint32(p[2]) << 8
		fallthrough
	case 2:
		k1 |= uint32(p[1]) << 16
		fallthrough
	case 1:
		k1 |= uint32(p[0]) << 24
		h1 = Round32(k1, h1)
	}

	return h1
}

// Round32String is Round32Bytes over the bytes of s without copying them.
func Round32String(s string, h1 uint32) uint32 {
	for len(s) >= 4 {
		k1 := uint32(s[0])<<24 | uint32(s[1])<<16 | uint32(s[2])<<8 | uint32(s[3])
		h1 = Round32(k1, h1)
		s = s[4:]
	}

	var k1 uint32
	switch len(s) {
	case 3:
		k1 |= uint32(s[2]) << 8
		fallthrough
	case 2:
		k1 |= uint32(s[1]) << 16
		fallthrough
	case 1:
		k1 |= uint32(s[0]) << 24
		h1 = Round32(k1, h1)
	}

	return h1
}

// Mix32 is the MurmurHash3 finalizer.
func Mix32(h1 uint32) uint32 {
	h1 ^= h1 >> 16
	h1 *= 0x85ebca6b
	h1 ^= h1 >> 13
	h1 *= 0xc2b2ae35
	h1 ^= h1 >> 16

	return h1
}

// G is the first-level hash that assigns a key to a bucket.
func G(key string, seed uint32) uint32 {
	return Mix32(Round32String(key, seed))
}

// F is the second-level hash that places a key given its bucket's
// displacement d.
func F(d uint32, key string, seed uint32) uint32 {
	return Mix32(Round32String(key, Round32(d, seed)))
}

// Fingerprint is the per-slot check value stored next to compiled maps.
// It is a single unmixed pass with a fixed seed, so it stays independent of
// the seed the function was built with.
func Fingerprint(key string) uint32 {
	return Round32String(key, FingerprintSeed)
}
