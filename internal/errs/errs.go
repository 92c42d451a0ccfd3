// Package errs defines the error taxonomy shared by every component of the
// cache push client. Errors are organized by kind rather than by Go type:
// each Kind is a comparable sentinel that survives fmt.Errorf wrapping, so
// callers can test for a category with errors.Is(err, errs.BadStorePath)
// regardless of which component raised it or what literal input it attached.
package errs

import "fmt"

// Kind identifies a category of error from spec.md §7's taxonomy.
type Kind struct{ name string }

func (k Kind) Error() string { return k.name }

var (
	// Parse errors.
	BadStorePath            = Kind{"bad store path"}
	NotAbsolute             = Kind{"not absolute"}
	EmptyBasename           = Kind{"empty basename"}
	BadFileHash             = Kind{"bad file hash"}
	UnknownHashAlgorithm    = Kind{"unknown hash algorithm"}
	BadKVBlob               = Kind{"bad key-value blob"}
	BadDerivation           = Kind{"bad derivation"}
	MissingKey              = Kind{"missing key"}
	NotANonNegativeInteger  = Kind{"not a non-negative integer"}

	// Protocol errors.
	HTTPStatus     = Kind{"http status"}
	Transport      = Kind{"transport"}
	BadContentType = Kind{"bad content type"}

	// Subprocess errors.
	SpawnFailed  = Kind{"spawn failed"}
	NonZeroExit  = Kind{"non-zero exit"}

	// IO errors.
	ReadFailed   = Kind{"read failed"}
	WriteFailed  = Kind{"write failed"}
	RenameFailed = Kind{"rename failed"}

	// Semantic errors.
	CacheRejectedUpload = Kind{"cache rejected upload"}
)

// New builds an error of the given kind carrying the offending literal
// input, with no underlying cause.
func New(kind Kind, input string) error {
	if input == "" {
		return kind
	}
	return fmt.Errorf("%w: %q", kind, input)
}

// Wrap builds an error of the given kind carrying both the offending
// literal input and an underlying cause. Both remain reachable through
// errors.Is/errors.As via the chained %w verbs.
func Wrap(kind Kind, input string, cause error) error {
	if input == "" {
		return fmt.Errorf("%w: %w", kind, cause)
	}
	return fmt.Errorf("%w: %q: %w", kind, input, cause)
}
