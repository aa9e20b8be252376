// Package digest computes the SHA-256 digests stored in place of patron
// passwords and recovery tokens.
//
// The stored format is the 64 character lowercase hex rendering of the
// 256-bit digest. The algorithm follows FIPS 180-4 exactly so digests written
// by earlier versions of the circulation database keep verifying.
package digest

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math/bits"
)

const (
	// Size is the length of a digest in bytes.
	Size = 32
	// BlockSize is the block size of the compression function in bytes.
	BlockSize = 64
	// HexSize is the length of the hex rendering returned by Hex.
	HexSize = 2 * Size
)

var initial = [8]uint32{
	0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
	0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
}

var roundK = [64]uint32{
	0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5, 0x3956c25b, 0x59f111f1, 0x923f82a4, 0xab1c5ed5,
	0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3, 0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174,
	0xe49b69c1, 0xefbe4786, 0x0fc19dc6, 0x240ca1cc, 0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
	0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7, 0xc6e00bf3, 0xd5a79147, 0x06ca6351, 0x14292967,
	0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13, 0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85,
	0xa2bfe8a1, 0xa81a664b, 0xc24b8b70, 0xc76c51a3, 0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
	0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5, 0x391c0cb3, 0x4ed8aa4a, 0x5b9cca4f, 0x682e6ff3,
	0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208, 0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2,
}

// Engine is a streaming SHA-256 state. The zero value is not usable; call New.
type Engine struct {
	h   [8]uint32
	buf [BlockSize]byte
	nx  int
	len uint64
}

var _ hash.Hash = (*Engine)(nil)

// New returns a fresh Engine.
func New() *Engine {
	e := new(Engine)
	e.Reset()
	return e
}

// Reset restores the initial hash values and drops buffered input.
func (e *Engine) Reset() {
	e.h = initial
	e.nx = 0
	e.len = 0
}

func (e *Engine) Size() int      { return Size }
func (e *Engine) BlockSize() int { return BlockSize }

// Write absorbs p. It never returns an error.
func (e *Engine) Write(p []byte) (int, error) {
	n := len(p)
	e.len += uint64(n)

	if e.nx > 0 {
		c := copy(e.buf[e.nx:], p)
		e.nx += c
		p = p[c:]
		if e.nx == BlockSize {
			e.block(e.buf[:])
			e.nx = 0
		}
	}

	for len(p) >= BlockSize {
		e.block(p[:BlockSize])
		p = p[BlockSize:]
	}

	if len(p) > 0 {
		e.nx = copy(e.buf[:], p)
	}

	return n, nil
}

// Sum appends the digest of everything written so far to b. The running
// state is left untouched so more data may be written afterwards.
func (e *Engine) Sum(b []byte) []byte {
	d := *e
	sum := d.finish()
	return append(b, sum[:]...)
}

// finish pads the message: a single 0x80 byte, zeros up to 56 mod 64, then
// the message length in bits as a big-endian uint64.
func (e *Engine) finish() [Size]byte {
	bitLen := e.len << 3

	var pad [BlockSize + 8]byte
	pad[0] = 0x80

	padLen := 56 - int(e.len%BlockSize)
	if padLen <= 0 {
		padLen += BlockSize
	}
	binary.BigEndian.PutUint64(pad[padLen:], bitLen)
	e.Write(pad[:padLen+8])

	if e.nx != 0 {
		panic("digest: padding left a partial block")
	}

	var out [Size]byte
	for i, v := range e.h {
		binary.BigEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func (e *Engine) block(p []byte) {
	var w [64]uint32
	for i := 0; i < 16; i++ {
		w[i] = binary.BigEndian.Uint32(p[i*4:])
	}
	for i := 16; i < 64; i++ {
		v1 := w[i-2]
		s1 := bits.RotateLeft32(v1, -17) ^ bits.RotateLeft32(v1, -19) ^ (v1 >> 10)
		v0 := w[i-15]
		s0 := bits.RotateLeft32(v0, -7) ^ bits.RotateLeft32(v0, -18) ^ (v0 >> 3)
		w[i] = s1 + w[i-7] + s0 + w[i-16]
	}

	a, b, c, d := e.h[0], e.h[1], e.h[2], e.h[3]
	x, f, g, h := e.h[4], e.h[5], e.h[6], e.h[7]

	for i := 0; i < 64; i++ {
		bigS1 := bits.RotateLeft32(x, -6) ^ bits.RotateLeft32(x, -11) ^ bits.RotateLeft32(x, -25)
		ch := (x & f) ^ (^x & g)
		t1 := h + bigS1 + ch + roundK[i] + w[i]

		bigS0 := bits.RotateLeft32(a, -2) ^ bits.RotateLeft32(a, -13) ^ bits.RotateLeft32(a, -22)
		maj := (a & b) ^ (a & c) ^ (b & c)
		t2 := bigS0 + maj

		h = g
		g = f
		f = x
		x = d + t1
		d = c
		c = b
		b = a
		a = t1 + t2
	}

	// x is the fifth working variable ("e" in FIPS 180-4).
	e.h[0] += a
	e.h[1] += b
	e.h[2] += c
	e.h[3] += d
	e.h[4] += x
	e.h[5] += f
	e.h[6] += g
	e.h[7] += h
}

// Sum returns the SHA-256 digest of data.
func Sum(data []byte) [Size]byte {
	e := New()
	e.Write(data)
	return e.finish()
}

// Hex returns the SHA-256 digest of data as 64 lowercase hex characters.
func Hex(data []byte) string {
	sum := Sum(data)
	return hex.EncodeToString(sum[:])
}

// String is Hex for string input.
func String(s string) string {
	return Hex([]byte(s))
}
