package txid

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Size is the length of a transfer identifier in bytes.
const Size = 32

var (
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrInvalidIdentifier = errors.New("invalid transaction identifier")
)

// Identifier is the representation hash of the root cell of a signed
// external message. Providers index the resulting transaction by it.
type Identifier [Size]byte

// String returns the canonical lowercase hex form.
func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

func (id Identifier) Base64() string {
	return base64.StdEncoding.EncodeToString(id[:])
}

func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Derive computes the identifier of a serialized bag of cells. It performs no
// I/O, so callers derive once per submission and keep the result.
func Derive(payload []byte) (Identifier, error) {
	if len(payload) == 0 {
		return Identifier{}, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}

	root, err := cell.FromBOC(payload)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var id Identifier
	if n := copy(id[:], root.Hash()); n != Size {
		return Identifier{}, fmt.Errorf("%w: unexpected hash length %d", ErrMalformedPayload, n)
	}
	return id, nil
}

// DecodeBOC decodes the base64 text form wallets hand signed payloads over in.
func DecodeBOC(boc string) ([]byte, error) {
	payload, err := decodeBase64(strings.TrimSpace(boc))
	if err != nil {
		return nil, fmt.Errorf("%w: not base64: %v", ErrMalformedPayload, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	return payload, nil
}

// Parse accepts the encodings providers are known to use for hashes: hex in
// any case (optionally 0x-prefixed) and standard or URL-safe base64, padded
// or not.
func Parse(s string) (Identifier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identifier{}, ErrInvalidIdentifier
	}

	hexStr := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(hexStr) == hex.EncodedLen(Size) {
		if b, err := hex.DecodeString(hexStr); err == nil {
			var id Identifier
			copy(id[:], b)
			return id, nil
		}
	}

	b, err := decodeBase64(s)
	if err != nil || len(b) != Size {
		return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	var id Identifier
	copy(id[:], b)
	return id, nil
}

// Valid reports whether s is a canonical lowercase hex identifier.
func Valid(s string) bool {
	id, err := Parse(s)
	if err != nil {
		return false
	}
	return id.String() == s
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
