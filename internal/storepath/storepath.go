// Package storepath implements component A of the cache push client: the
// store's content-addressed identifiers, `<32-char prefix>-<name>`, and
// their filesystem-qualified form. See spec.md §3, §4.A.
package storepath

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ixmatus/nix-binary-cache/internal/errs"
)

const prefixLen = 32

// StorePath is a value-typed pair (prefix, name). Equality and ordering are
// structural.
type StorePath struct {
	Prefix string
	Name   string
}

// FullStorePath is a StorePath qualified with the absolute directory of the
// store it lives in.
type FullStorePath struct {
	StoreDir  string
	StorePath StorePath
}

// Less orders StorePath lexicographically on (prefix, name), matching
// spec.md §3's ordering invariant.
func Less(a, b StorePath) bool {
	if a.Prefix != b.Prefix {
		return a.Prefix < b.Prefix
	}
	return a.Name < b.Name
}

func isPrefixChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	default:
		return false
	}
}

// Parse accepts a bare basename of the form "<32-char prefix>-<name>".
func Parse(basename string) (StorePath, error) {
	if len(basename) < prefixLen+1 {
		return StorePath{}, errs.New(errs.BadStorePath, basename)
	}
	prefix := basename[:prefixLen]
	for i := 0; i < prefixLen; i++ {
		if !isPrefixChar(prefix[i]) {
			return StorePath{}, errs.New(errs.BadStorePath, basename)
		}
	}
	if basename[prefixLen] != '-' {
		return StorePath{}, errs.New(errs.BadStorePath, basename)
	}
	name := basename[prefixLen+1:]
	if name == "" {
		return StorePath{}, errs.New(errs.BadStorePath, basename)
	}
	return StorePath{Prefix: prefix, Name: name}, nil
}

// ParseFull splits an absolute filesystem path into its store directory and
// basename, then parses the basename as a StorePath.
func ParseFull(path string) (FullStorePath, error) {
	if !filepath.IsAbs(path) {
		return FullStorePath{}, errs.New(errs.NotAbsolute, path)
	}
	dir, base := filepath.Split(path)
	if base == "" {
		return FullStorePath{}, errs.New(errs.EmptyBasename, path)
	}
	sp, err := Parse(base)
	if err != nil {
		return FullStorePath{}, errs.Wrap(errs.BadStorePath, path, err)
	}
	return FullStorePath{StoreDir: strings.TrimSuffix(dir, "/"), StorePath: sp}, nil
}

// ParsePermissive tries Parse first, falling back to ParseFull and
// returning its StorePath component. If both fail, both errors are
// reported together.
func ParsePermissive(text string) (StorePath, error) {
	sp, err1 := Parse(text)
	if err1 == nil {
		return sp, nil
	}
	full, err2 := ParseFull(text)
	if err2 == nil {
		return full.StorePath, nil
	}
	return StorePath{}, fmt.Errorf("parse %q as store path: %w; as full path: %w", text, err1, err2)
}

// Format renders a StorePath as "prefix-name", the invariant textual form.
func Format(sp StorePath) string {
	return sp.Prefix + "-" + sp.Name
}

// FormatFull renders a FullStorePath as "storeDir/prefix-name".
func FormatFull(fp FullStorePath) string {
	return fp.StoreDir + "/" + Format(fp.StorePath)
}

// Abbreviate renders a shortened form for diagnostics: the first six
// characters of the prefix, a dash, and the name. Never used for anything
// but human-readable output.
func Abbreviate(sp StorePath) string {
	n := 6
	if len(sp.Prefix) < n {
		n = len(sp.Prefix)
	}
	return sp.Prefix[:n] + "-" + sp.Name
}
