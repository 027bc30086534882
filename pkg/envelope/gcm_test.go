package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io/ioutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomElement(t *testing.T) fieldElement {
	t.Helper()
	var b [blockSize]byte
	_, err := rand.Read(b[:])
	require.NoError(t, err)
	return loadElement(b[:])
}

func TestGFMul(t *testing.T) {
	one := fieldElement{hi: 1 << 63}
	for i := 0; i < 32; i++ {
		x, y, w := randomElement(t), randomElement(t), randomElement(t)

		assert.Equal(t, x, gfMul(x, one))
		assert.Equal(t, x, gfMul(one, x))
		assert.Equal(t, fieldElement{}, gfMul(x, fieldElement{}))
		assert.Equal(t, gfMul(x, y), gfMul(y, x))

		sum := fieldElement{hi: y.hi ^ w.hi, lo: y.lo ^ w.lo}
		xy, xw := gfMul(x, y), gfMul(x, w)
		assert.Equal(t, fieldElement{hi: xy.hi ^ xw.hi, lo: xy.lo ^ xw.lo}, gfMul(x, sum))
	}
}

// Feeding the stream in uneven pieces must give the same ciphertext and tag as
// a single AEAD seal.
func TestStreamSplitsMatchStandardGCM(t *testing.T) {
	key := testKey(t)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)

	plain := randomBytes(t, 1000)
	nonce := randomBytes(t, NonceSize)
	want := aead.Seal(nil, nonce, plain, nil)

	for _, step := range []int{1, 3, 15, 16, 17, 64, 999} {
		s := newGCMStream(block, nonce)
		out := make([]byte, 0, len(plain)+TagSize)
		for off := 0; off < len(plain); off += step {
			end := off + step
			if end > len(plain) {
				end = len(plain)
			}
			chunk := append([]byte(nil), plain[off:end]...)
			require.NoError(t, s.seal(chunk, chunk))
			out = append(out, chunk...)
		}
		tag := s.sum()
		out = append(out, tag[:]...)
		assert.True(t, bytes.Equal(want, out), "step %d", step)

		o := newGCMStream(block, nonce)
		opened := append([]byte(nil), want[:len(plain)]...)
		for off := 0; off < len(opened); off += step {
			end := off + step
			if end > len(opened) {
				end = len(opened)
			}
			require.NoError(t, o.open(opened[off:end], opened[off:end]))
		}
		otag := o.sum()
		assert.Equal(t, want[len(plain):], otag[:], "step %d", step)
		assert.True(t, bytes.Equal(plain, opened), "step %d", step)
	}
}

func TestCounterCarriesOnlyLowWord(t *testing.T) {
	var b [blockSize]byte
	binary.BigEndian.PutUint32(b[12:], 0xffffffff)
	b[11] = 7
	inc32(&b)
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(b[12:]))
	assert.Equal(t, byte(7), b[11])
}

func BenchmarkEncrypt(b *testing.B) {
	c, err := New(bytes.Repeat([]byte{0x42}, KeySize))
	if err != nil {
		b.Fatal(err)
	}
	plain := make([]byte, 1<<20)
	b.SetBytes(int64(len(plain)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.Encrypt(ioutil.Discard, bytes.NewReader(plain)); err != nil {
			b.Fatal(err)
		}
	}
}
