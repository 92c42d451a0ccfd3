// Package kv implements component C of the cache push client: the
// line-oriented "Key: Value" blob format used by nix-cache-info and
// narinfo responses. See spec.md §4.C.
package kv

import (
	"bufio"
	"io"
	"strings"

	"github.com/ixmatus/nix-binary-cache/internal/errs"
)

// Blob is an insertion-ordered map: duplicate keys keep their last value
// but their first position, matching "last write wins" over the key set
// while preserving a stable iteration order for Serialize.
type Blob struct {
	order []string
	vals  map[string]string
}

func New() *Blob {
	return &Blob{vals: make(map[string]string)}
}

func (b *Blob) Set(key, value string) {
	if _, ok := b.vals[key]; !ok {
		b.order = append(b.order, key)
	}
	b.vals[key] = value
}

func (b *Blob) Get(key string) (string, bool) {
	v, ok := b.vals[key]
	return v, ok
}

// Require returns the value for key, or a MissingKey error.
func (b *Blob) Require(key string) (string, error) {
	v, ok := b.vals[key]
	if !ok {
		return "", errs.New(errs.MissingKey, key)
	}
	return v, nil
}

// Keys returns the keys in first-insertion order.
func (b *Blob) Keys() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Parse reads zero or more "KEY: VALUE\n" lines, skipping leading
// blank/whitespace lines. KEY is one or more non-colon bytes; VALUE is one
// or more non-newline bytes following any run of spaces after the colon.
func Parse(r io.Reader) (*Blob, error) {
	blob := New()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	started := false
	for scanner.Scan() {
		line := scanner.Text()
		if !started {
			if strings.TrimSpace(line) == "" {
				continue
			}
			started = true
		}
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			return nil, errs.New(errs.BadKVBlob, line)
		}
		key := line[:idx]
		rest := strings.TrimLeft(line[idx+1:], " ")
		if rest == "" {
			return nil, errs.New(errs.BadKVBlob, line)
		}
		blob.Set(key, rest)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.ReadFailed, "", err)
	}
	return blob, nil
}

// ParseBytes is a convenience wrapper around Parse for already-buffered
// input.
func ParseBytes(data []byte) (*Blob, error) {
	return Parse(strings.NewReader(string(data)))
}

// Serialize renders the blob back to "KEY: VALUE\n" lines in insertion
// order.
func Serialize(b *Blob) string {
	var sb strings.Builder
	for _, k := range b.order {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(b.vals[k])
		sb.WriteByte('\n')
	}
	return sb.String()
}
