package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCarriesLiteralInput(t *testing.T) {
	err := New(BadStorePath, "short-name")
	assert.ErrorIs(t, err, BadStorePath)
	assert.Contains(t, err.Error(), "short-name")
}

func TestNewWithEmptyInputIsBareKind(t *testing.T) {
	err := New(MissingKey, "")
	assert.Equal(t, MissingKey, err)
}

func TestWrapPreservesCauseAndKind(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ReadFailed, "/tmp/x", cause)
	assert.ErrorIs(t, err, ReadFailed)
	assert.ErrorIs(t, err, cause)
}

func TestKindsAreDistinguishableViaErrorsIs(t *testing.T) {
	err := New(BadFileHash, "md5:garbage")
	assert.ErrorIs(t, err, BadFileHash)
	assert.NotErrorIs(t, err, BadStorePath)
}
