// Package digest defines the content hash shared by the local and remote
// indexes.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
)

// Hash is a lowercase hex encoded MD5 digest. MD5 is what the remote
// services report for stored content, so it is the join key.
type Hash string

const Size = md5.Size

func Sum(b []byte) Hash {
	s := md5.Sum(b)
	return Hash(hex.EncodeToString(s[:]))
}

func SumReader(r io.Reader) (Hash, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("could not hash content: %w", err)
	}
	return Hash(hex.EncodeToString(h.Sum(nil))), nil
}

// Parse validates s as a hex digest and normalizes it to lowercase.
func Parse(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid content hash '%s': %w", s, err)
	}
	if len(b) != Size {
		return "", fmt.Errorf("invalid content hash '%s': expected %d bytes, got %d", s, Size, len(b))
	}
	return Hash(hex.EncodeToString(b)), nil
}

func (h Hash) String() string {
	return string(h)
}
