package derivation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMinimal(t *testing.T) {
	text := `Derive([("out","/nix/store/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-x","","")],[],[],"x86_64-linux","/bin/sh",[],[])`
	d, err := Parse(text)
	require.NoError(t, err)

	require.Len(t, d.Outputs, 1)
	out, ok := d.Outputs["out"]
	require.True(t, ok)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", out.Path.Prefix)
	assert.Equal(t, "x", out.Path.Name)
	assert.Nil(t, out.Hash)

	assert.Empty(t, d.InputDerivations)
	assert.Empty(t, d.InputSources)
	assert.Equal(t, "x86_64-linux", d.System)
	assert.Equal(t, "/bin/sh", d.Builder)
	assert.Empty(t, d.Args)
	assert.Empty(t, d.Env)
}

func TestParseFixedOutput(t *testing.T) {
	text := `Derive([("out","/nix/store/xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx-src","sha256","0123abcd")],[],[],"x86_64-linux","/bin/sh",[],[])`
	d, err := Parse(text)
	require.NoError(t, err)

	out := d.Outputs["out"]
	require.NotNil(t, out.Hash)
	assert.Equal(t, "sha256:0123abcd", "sha256:"+out.Hash.Digest)
}

func TestParseFullDerivation(t *testing.T) {
	text := `Derive([("out","/nix/store/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-x","","")],` +
		`[("/nix/store/bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb-dep.drv",["out"])],` +
		`["/nix/store/cccccccccccccccccccccccccccccccc-src"],` +
		`"x86_64-linux","/bin/sh",["-c","echo hi"],[("PATH","/bin"),("HOME","/tmp")])`

	d, err := Parse(text)
	require.NoError(t, err)

	require.Len(t, d.InputDerivations, 1)
	for path, in := range d.InputDerivations {
		assert.Equal(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", path.Prefix)
		assert.Equal(t, []string{"out"}, in.Outputs)
	}

	require.Len(t, d.InputSources, 1)
	assert.Equal(t, "cccccccccccccccccccccccccccccccc", d.InputSources[0].Prefix)

	assert.Equal(t, []string{"-c", "echo hi"}, d.Args)
	assert.Equal(t, "/bin", d.Env["PATH"])
	assert.Equal(t, "/tmp", d.Env["HOME"])
}

func TestParseEmptyOutputsRejected(t *testing.T) {
	text := `Derive([],[],[],"x86_64-linux","/bin/sh",[],[])`
	_, err := Parse(text)
	require.Error(t, err)
}

func TestParseDuplicateOutputNameRejected(t *testing.T) {
	text := `Derive([("out","/nix/store/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-x","",""),` +
		`("out","/nix/store/bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb-y","","")],[],[],"x86_64-linux","/bin/sh",[],[])`
	_, err := Parse(text)
	require.Error(t, err)
}

func TestParseEscapes(t *testing.T) {
	text := `Derive([("out","/nix/store/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-x","","")],[],[],` +
		`"x86_64-linux","/bin/sh",["line1\nline2\ttabbed"],[])`
	d, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\ttabbed", d.Args[0])
}
