package narchive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixmatus/nix-binary-cache/internal/errs"
)

type stubStore struct {
	exportBody string
	importErr  error
	gotImport  string
}

func (s *stubStore) Dump(ctx context.Context, path string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("nar bytes")), nil
}

func (s *stubStore) Export(ctx context.Context, path string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.exportBody)), nil
}

func (s *stubStore) Import(ctx context.Context, r io.Reader) error {
	data, _ := io.ReadAll(r)
	s.gotImport = string(data)
	return s.importErr
}

func (s *stubStore) QueryReferences(ctx context.Context, path string) ([]string, error) {
	return nil, nil
}

func TestDumpPassesThroughStoreBytes(t *testing.T) {
	store := &stubStore{}
	rc, err := Dump(context.Background(), store, "/nix/store/x")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "nar bytes", string(data))
}

func TestExportAttachesMetadata(t *testing.T) {
	store := &stubStore{exportBody: "exported bytes"}
	archive, err := Export(context.Background(), store, "/nix/store/x", []string{"/nix/store/y"}, "")
	require.NoError(t, err)
	defer archive.Body.Close()

	assert.Equal(t, "/nix/store/x", archive.Metadata.StorePath)
	assert.Equal(t, []string{"/nix/store/y"}, archive.Metadata.References)

	data, err := io.ReadAll(archive.Body)
	require.NoError(t, err)
	assert.Equal(t, "exported bytes", string(data))
}

func TestImportSucceeds(t *testing.T) {
	store := &stubStore{}
	archive := Archive{
		Metadata: Metadata{StorePath: "/nix/store/x"},
		Body:     io.NopCloser(strings.NewReader("exported bytes")),
	}
	require.NoError(t, Import(context.Background(), store, archive))
	assert.Equal(t, "exported bytes", store.gotImport)
}

func TestImportFailureSpillsToTempFile(t *testing.T) {
	store := &stubStore{importErr: errors.New("rejected")}
	archive := Archive{
		Metadata: Metadata{StorePath: "/nix/store/x"},
		Body:     io.NopCloser(strings.NewReader("exported bytes")),
	}

	err := Import(context.Background(), store, archive)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.CacheRejectedUpload)
	assert.Contains(t, err.Error(), "spilled to")
}
