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
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// DefaultSeed is the seed used when a BuildConfig leaves it unset.
	DefaultSeed = 1792
	// FingerprintSeed seeds Fingerprint.
	FingerprintSeed = 1337
)

var (
	// ErrRange is returned when the requested sizes cannot be represented.
	ErrRange = errors.New("phf: size out of range")
	// ErrDuplicateKey is returned when the key set given to Build is not unique.
	ErrDuplicateKey = errors.New("phf: duplicate key")
	// ErrDisplacementExhausted is returned when a bucket could not be placed
	// within the configured displacement bound.
	ErrDisplacementExhausted = errors.New("phf: displacement search exhausted")
	// ErrChecksum is returned when a loaded displacement table does not match
	// the checksum recorded next to it.
	ErrChecksum = errors.New("phf: displacement table checksum mismatch")
	// ErrFormat is returned for malformed on-disk metadata.
	ErrFormat = errors.New("phf: malformed metadata")
)

// Op tags the width and reduction strategy of the displacement table.
type Op uint32

// The values are part of the on-disk format.
const (
	OpUint8Mod   Op = 1
	OpUint8Band  Op = 2
	OpUint16Mod  Op = 3
	OpUint16Band Op = 4
	OpUint32Mod  Op = 5
	OpUint32Band Op = 6
)

// Width returns the size in bytes of one displacement entry.
func (op Op) Width() int {
	switch op {
	case OpUint8Mod, OpUint8Band:
		return 1
	case OpUint16Mod, OpUint16Band:
		return 2
	case OpUint32Mod, OpUint32Band:
		return 4
	default:
		return 0
	}
}

// NoDiv reports whether the op reduces with a bit mask.
func (op Op) NoDiv() bool {
	return op == OpUint8Band || op == OpUint16Band || op == OpUint32Band
}

func (op Op) String() string {
	switch op {
	case OpUint8Mod:
		return "uint8-mod"
	case OpUint8Band:
		return "uint8-band"
	case OpUint16Mod:
		return "uint16-mod"
	case OpUint16Band:
		return "uint16-band"
	case OpUint32Mod:
		return "uint32-mod"
	case OpUint32Band:
		return "uint32-band"
	default:
		return fmt.Sprintf("op(%d)", uint32(op))
	}
}

func opFor(width int, nodiv bool) Op {
	var op Op
	switch width {
	case 1:
		op = OpUint8Mod
	case 2:
		op = OpUint16Mod
	default:
		op = OpUint32Mod
	}
	if nodiv {
		op++
	}

	return op
}

// PHF is a built perfect hash function. It is immutable and safe for
// concurrent queries.
type PHF struct {
	NoDiv bool
	Seed  uint32
	R     uint32
	M     uint32
	DMax  uint32
	Op    Op

	// g holds R little-endian displacements of Op.Width() bytes each. It may
	// alias a memory mapping.
	g []byte
}

// newPHF validates the fields against the displacement table and returns
// the assembled function.
func newPHF(nodiv bool, seed, r, m, dmax uint32, op Op, g []byte) (*PHF, error) {
	width := op.Width()
	switch {
	case width == 0:
		return nil, fmt.Errorf("%w: unknown op %d", ErrFormat, op)
	case op.NoDiv() != nodiv:
		return nil, fmt.Errorf("%w: op %s disagrees with nodiv=%t", ErrFormat, op, nodiv)
	case r == 0 || m == 0:
		return nil, fmt.Errorf("%w: r=%d m=%d", ErrFormat, r, m)
	case nodiv && (r&(r-1) != 0 || m&(m-1) != 0):
		return nil, fmt.Errorf("%w: r=%d m=%d must be powers of two", ErrFormat, r, m)
	case len(g) < int(r)*width:
		return nil, fmt.Errorf("%w: displacement table holds %d bytes, want %d", ErrFormat, len(g), int(r)*width)
	}

	return &PHF{
		NoDiv: nodiv,
		Seed:  seed,
		R:     r,
		M:     m,
		DMax:  dmax,
		Op:    op,
		g:     g[:int(r)*width],
	}, nil
}

// Displacement returns the displacement stored for bucket i.
func (p *PHF) Displacement(i uint32) uint32 {
	switch p.Op.Width() {
	case 1:
		return uint32(p.g[i])
	case 2:
		return uint32(binary.LittleEndian.Uint16(p.g[2*i:]))
	default:
		return binary.LittleEndian.Uint32(p.g[4*i:])
	}
}

// Slot returns the output slot of key. The result is only meaningful for
// keys of the build set; callers must verify membership separately.
func (p *PHF) Slot(key string) uint32 {
	d := p.Displacement(reduce(G(key, p.Seed), p.R, p.NoDiv))
	return reduce(F(d, key, p.Seed), p.M, p.NoDiv)
}

// TableSize returns the size in bytes of the displacement table.
func (p *PHF) TableSize() int {
	return len(p.g)
}

// Compact narrows the displacement table to the smallest width that holds
// DMax. It is a no-op when the table is already compacted or DMax needs all
// 32 bits.
func (p *PHF) Compact() {
	if p.Op.Width() != 4 {
		return
	}

	var width int
	switch {
	case p.DMax <= 0xff:
		width = 1
	case p.DMax <= 0xffff:
		width = 2
	default:
		return
	}

	g := make([]byte, int(p.R)*width)
	for i := uint32(0); i < p.R; i++ {
		d := p.Displacement(i)
		if width == 1 {
			g[i] = byte(d)
		} else {
			binary.LittleEndian.PutUint16(g[2*i:], uint16(d))
		}
	}

	p.g = g
	p.Op = opFor(width, p.NoDiv)
}
