// Package envelope implements the on-disk format of encrypted artifacts.
//
// An encrypted artifact is laid out as
//
//	[12-byte nonce][ciphertext, same length as plaintext][16-byte tag]
//
// using AES-256-GCM with empty additional data. Both directions stream, so
// artifacts of any size are processed with a constant amount of memory.
package envelope

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bizflycloud/bizfly-archiver/pkg/fsutil"
)

const (
	// NonceSize is the length of the random nonce written at the head of an envelope.
	NonceSize = 12
	// TagSize is the length of the authentication tag written at the tail of an envelope.
	TagSize = 16
	// Overhead is the number of bytes an envelope adds to its plaintext.
	Overhead = NonceSize + TagSize
	// KeySize is the required length of the symmetric key.
	KeySize = 32
	// Ext is appended to the name of an artifact once it is encrypted.
	Ext = ".enc"

	bufferSize = 64 * 1024
)

var (
	// ErrNoKey is returned when encryption is requested without a configured key.
	ErrNoKey = errors.New("envelope: encryption key is not configured")
	// ErrInvalidKey is returned for keys that are not exactly KeySize bytes.
	ErrInvalidKey = fmt.Errorf("envelope: encryption key must be %d bytes", KeySize)
	// ErrIntegrity is the parent of every error caused by a damaged envelope.
	ErrIntegrity = errors.New("envelope: integrity check failed")
	// ErrTruncated is returned for files too short to hold a nonce and a tag.
	ErrTruncated = fmt.Errorf("%w: file shorter than %d bytes", ErrIntegrity, Overhead)
	// ErrAuthentication is returned when the tag does not match the content.
	ErrAuthentication = fmt.Errorf("%w: authentication tag mismatch", ErrIntegrity)
	// ErrTooLarge is returned for plaintexts beyond the GCM length limit.
	ErrTooLarge = errors.New("envelope: plaintext too large for a single envelope")
)

// Cipher encrypts and decrypts envelopes with one key.
type Cipher struct {
	key  []byte
	rand io.Reader
}

// New returns a Cipher for key. An empty key yields ErrNoKey.
func New(key []byte) (*Cipher, error) {
	if len(key) == 0 {
		return nil, ErrNoKey
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Cipher{key: k, rand: rand.Reader}, nil
}

// ParseKey decodes a key given either as 64 hex characters or as standard base64.
// An empty string decodes to a nil key.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if len(s) == hex.EncodedLen(KeySize) {
		if k, err := hex.DecodeString(s); err == nil {
			return k, nil
		}
	}
	k, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex or base64", ErrInvalidKey)
	}
	if len(k) != KeySize {
		return nil, ErrInvalidKey
	}
	return k, nil
}

// IsEncrypted reports whether name carries the envelope extension.
func IsEncrypted(name string) bool {
	return strings.HasSuffix(name, Ext)
}

// PlainName strips the envelope extension from name.
func PlainName(name string) string {
	return strings.TrimSuffix(name, Ext)
}

// Encrypt reads plaintext from src until EOF and writes a complete envelope to dst.
// A fresh nonce is drawn from the CSPRNG on every call.
func (c *Cipher) Encrypt(dst io.Writer, src io.Reader) error {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	if _, err := dst.Write(nonce); err != nil {
		return err
	}

	s := newGCMStream(block, nonce)
	buf := make([]byte, bufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if err := s.seal(buf[:n], buf[:n]); err != nil {
				return err
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	tag := s.sum()
	_, err = dst.Write(tag[:])
	return err
}

// Decrypt reads the envelope of the given size from src and streams the
// plaintext to dst. The plaintext written to dst is untrusted until Decrypt
// returns nil: callers must discard it on any error.
func (c *Cipher) Decrypt(dst io.Writer, src io.ReaderAt, size int64) error {
	if size < Overhead {
		return ErrTruncated
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return err
	}

	nonce := make([]byte, NonceSize)
	if _, err := src.ReadAt(nonce, 0); err != nil {
		return fmt.Errorf("read nonce: %w", err)
	}
	want := make([]byte, TagSize)
	if _, err := src.ReadAt(want, size-TagSize); err != nil {
		return fmt.Errorf("read tag: %w", err)
	}

	s := newGCMStream(block, nonce)
	body := io.NewSectionReader(src, NonceSize, size-Overhead)
	buf := make([]byte, bufferSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if err := s.open(buf[:n], buf[:n]); err != nil {
				return err
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	got := s.sum()
	if subtle.ConstantTimeCompare(got[:], want) != 1 {
		return ErrAuthentication
	}
	return nil
}

// EncryptFile writes the envelope of inputPath to outputPath. The output only
// appears under its final name once it is complete.
func (c *Cipher) EncryptFile(inputPath, outputPath string) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	return fsutil.WriteAtomic(outputPath, func(w io.Writer) error {
		return c.Encrypt(w, in)
	})
}

// DecryptFile writes the plaintext of the envelope at inputPath to outputPath.
// When the envelope is truncated or fails authentication nothing is left at
// outputPath.
func (c *Cipher) DecryptFile(inputPath, outputPath string) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}
	if fi.Size() < Overhead {
		return ErrTruncated
	}

	return fsutil.WriteAtomic(outputPath, func(w io.Writer) error {
		return c.Decrypt(w, in, fi.Size())
	})
}
