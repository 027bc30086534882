// Package checksum computes content digests of backup artifacts.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Digest streams the file at path through SHA-256 and returns the hex encoded sum.
// The file is never loaded into memory as a whole.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return DigestReader(f)
}

// DigestReader returns the hex encoded SHA-256 of everything read from r.
func DigestReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the digest of the file at path equals want.
func Verify(path, want string) (bool, error) {
	got, err := Digest(path)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
