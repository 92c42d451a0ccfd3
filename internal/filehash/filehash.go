// Package filehash implements component B of the cache push client:
// parsing and formatting of "sha256:<hex-or-base32>" digests. See spec.md
// §3, §4.B.
package filehash

import (
	"encoding/hex"
	"strings"

	"zombiezen.com/go/nix/nixbase32"

	"github.com/ixmatus/nix-binary-cache/internal/errs"
)

// Encoding distinguishes how a FileHash's digest body is serialized.
type Encoding int

const (
	Hex Encoding = iota
	Base32
)

// FileHash is a tagged union over hash algorithms. Sha256 is presently the
// only variant.
type FileHash struct {
	Encoding Encoding
	Digest   string // the raw, decoded bytes are not retained: the body is self-describing from its serialized form
}

const sha256Prefix = "sha256:"

// Parse accepts "sha256:" followed by a hex or nixbase32 body. A
// 64-character body must be hex and a 52-character body must be nixbase32;
// a body of any other length is taken as hex if it decodes as hex, else as
// nixbase32 if it decodes as that.
func Parse(text string) (FileHash, error) {
	if !strings.HasPrefix(text, sha256Prefix) {
		return FileHash{}, errs.New(errs.UnknownHashAlgorithm, text)
	}
	body := strings.TrimPrefix(text, sha256Prefix)
	enc, err := classify(body)
	if err != nil {
		return FileHash{}, errs.Wrap(errs.BadFileHash, text, err)
	}
	return FileHash{Encoding: enc, Digest: body}, nil
}

func classify(body string) (Encoding, error) {
	switch len(body) {
	case 64:
		if _, err := hex.DecodeString(body); err != nil {
			return 0, err
		}
		return Hex, nil
	case 52: // nixbase32 encoding of a 32-byte sha256 digest is always 52 characters
		if _, err := nixbase32.DecodeString(body); err != nil {
			return 0, err
		}
		return Base32, nil
	default:
		if _, err := hex.DecodeString(body); err == nil {
			return Hex, nil
		}
		if _, err := nixbase32.DecodeString(body); err == nil {
			return Base32, nil
		}
		return 0, errs.New(errs.BadFileHash, body)
	}
}

// Format renders a FileHash back to "sha256:" + body.
func Format(h FileHash) string {
	return sha256Prefix + h.Digest
}

// Bytes decodes the digest body to raw bytes, regardless of encoding.
func Bytes(h FileHash) ([]byte, error) {
	switch h.Encoding {
	case Hex:
		return hex.DecodeString(h.Digest)
	case Base32:
		return nixbase32.DecodeString(h.Digest)
	default:
		return nil, errs.New(errs.BadFileHash, h.Digest)
	}
}
