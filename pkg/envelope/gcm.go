package envelope

import (
	"crypto/cipher"
	"encoding/binary"
)

// gcmMaxPlaintext is the largest message GCM can protect with a 96-bit nonce.
// Below it the 32-bit block counter never wraps, so a full-width CTR stream
// yields the same keystream as GCM's inc32.
const gcmMaxPlaintext = ((1 << 32) - 2) * blockSize

const blockSize = 16

// gcmReduce is the GCM reduction polynomial in GCM bit order.
const gcmReduce = 0xe100000000000000

// fieldElement is an element of GF(2^128) in GCM bit order: hi holds the first
// eight bytes of the block in big-endian order.
type fieldElement struct {
	hi, lo uint64
}

func loadElement(b []byte) fieldElement {
	return fieldElement{
		hi: binary.BigEndian.Uint64(b[:8]),
		lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

func (x fieldElement) store(b []byte) {
	binary.BigEndian.PutUint64(b[:8], x.hi)
	binary.BigEndian.PutUint64(b[8:16], x.lo)
}

// gfMul multiplies x by y following NIST SP 800-38D, algorithm 1. Bits of x
// and y only select through masks, never through branches or table indexes,
// so the running time does not depend on the hash key or the GHASH state.
func gfMul(x, y fieldElement) fieldElement {
	var z fieldElement
	v := y
	for _, word := range [2]uint64{x.hi, x.lo} {
		for j := 63; j >= 0; j-- {
			m := -((word >> uint(j)) & 1)
			z.hi ^= v.hi & m
			z.lo ^= v.lo & m

			r := -(v.lo & 1)
			v.lo = (v.lo >> 1) | (v.hi << 63)
			v.hi = (v.hi >> 1) ^ (gcmReduce & r)
		}
	}
	return z
}

// gcmStream is an incremental AES-GCM state with an empty additional data
// string. Ciphertext produced (or consumed) by it is byte-for-byte what
// cipher.AEAD.Seal would produce for the same key and nonce, only the tag is
// handed out separately once the whole stream has been processed.
type gcmStream struct {
	ctr     cipher.Stream
	h       fieldElement
	y       fieldElement
	tagMask [blockSize]byte

	pending  [blockSize]byte
	npending int

	length uint64
}

func newGCMStream(block cipher.Block, nonce []byte) *gcmStream {
	s := &gcmStream{}

	var h [blockSize]byte
	block.Encrypt(h[:], h[:])
	s.h = loadElement(h[:])

	var j0 [blockSize]byte
	copy(j0[:], nonce)
	j0[blockSize-1] = 1
	block.Encrypt(s.tagMask[:], j0[:])

	inc32(&j0)
	s.ctr = cipher.NewCTR(block, j0[:])
	return s
}

func inc32(b *[blockSize]byte) {
	c := binary.BigEndian.Uint32(b[12:])
	binary.BigEndian.PutUint32(b[12:], c+1)
}

func (s *gcmStream) ghash(b []byte) {
	x := loadElement(b)
	s.y.hi ^= x.hi
	s.y.lo ^= x.lo
	s.y = gfMul(s.y, s.h)
}

func (s *gcmStream) absorb(c []byte) {
	if s.npending > 0 {
		n := copy(s.pending[s.npending:], c)
		s.npending += n
		c = c[n:]
		if s.npending < blockSize {
			return
		}
		s.ghash(s.pending[:])
		s.npending = 0
	}
	for len(c) >= blockSize {
		s.ghash(c[:blockSize])
		c = c[blockSize:]
	}
	s.npending = copy(s.pending[:], c)
}

// seal encrypts src into dst (which may alias src).
func (s *gcmStream) seal(dst, src []byte) error {
	if s.length+uint64(len(src)) > gcmMaxPlaintext {
		return ErrTooLarge
	}
	s.length += uint64(len(src))
	s.ctr.XORKeyStream(dst[:len(src)], src)
	s.absorb(dst[:len(src)])
	return nil
}

// open decrypts src into dst (which may alias src).
func (s *gcmStream) open(dst, src []byte) error {
	if s.length+uint64(len(src)) > gcmMaxPlaintext {
		return ErrTooLarge
	}
	s.length += uint64(len(src))
	s.absorb(src)
	s.ctr.XORKeyStream(dst[:len(src)], src)
	return nil
}

// sum finalizes the GHASH and returns the authentication tag.
func (s *gcmStream) sum() [TagSize]byte {
	if s.npending > 0 {
		for i := s.npending; i < blockSize; i++ {
			s.pending[i] = 0
		}
		s.ghash(s.pending[:])
		s.npending = 0
	}
	var lengths [blockSize]byte
	binary.BigEndian.PutUint64(lengths[8:], s.length*8)
	s.ghash(lengths[:])

	var tag [TagSize]byte
	s.y.store(tag[:])
	for i := range tag {
		tag[i] ^= s.tagMask[i]
	}
	return tag
}
