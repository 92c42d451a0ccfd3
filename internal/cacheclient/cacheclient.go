// Package cacheclient implements component H of the cache push client: the
// binary cache's wire protocol (spec.md §4.H). Four endpoints: the
// nix-cache-info and narinfo key-value blobs (internal/kv), the raw (maybe
// gzipped) NAR byte stream, and the JSON bulk path-existence query.
package cacheclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/ixmatus/nix-binary-cache/internal/errs"
	"github.com/ixmatus/nix-binary-cache/internal/filehash"
	"github.com/ixmatus/nix-binary-cache/internal/kv"
)

// NixCacheInfo is the cache's top-level descriptor, spec.md §3.
type NixCacheInfo struct {
	StoreDir      string
	WantMassQuery bool
	Priority      *int
}

// NarInfo is a single store path's sidecar metadata, spec.md §3.
type NarInfo struct {
	StorePath  string
	NarHash    filehash.FileHash
	NarSize    int64
	FileHash   filehash.FileHash
	FileSize   int64
	References []string
	Deriver    string // always empty: see spec.md §9 open question, decided in DESIGN.md
	URL        string
}

// Client is the single HTTP connection manager for an invocation, shared
// by every request (spec.md §5's "exactly one HTTP connection manager").
type Client struct {
	BaseURL  string
	Username string
	Password string

	HTTP *http.Client
}

func New(baseURL, username, password string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Password: password,
		HTTP:     &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, path, err)
	}
	if c.Username != "" && c.Password != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, req.URL.String(), err)
	}
	return resp, nil
}

// decodedBody wraps resp.Body, transparently gunzipping it when the
// server sent "Content-Type: application/x-gzip".
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	if resp.Header.Get("Content-Type") != "application/x-gzip" {
		return resp.Body, nil
	}
	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, errs.Wrap(errs.BadContentType, "application/x-gzip", err)
	}
	return &gzipCloser{Reader: gz, inner: resp.Body}, nil
}

type gzipCloser struct {
	*gzip.Reader
	inner io.Closer
}

func (g *gzipCloser) Close() error {
	g.Reader.Close()
	return g.inner.Close()
}

// NixCacheInfo fetches and parses GET /nix-cache-info.
func (c *Client) NixCacheInfo(ctx context.Context) (*NixCacheInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/nix-cache-info", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("/nix-cache-info", resp.StatusCode)
	}

	blob, err := kv.Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	storeDir, err := blob.Require("StoreDir")
	if err != nil {
		return nil, err
	}
	info := &NixCacheInfo{StoreDir: storeDir}
	if v, ok := blob.Get("WantMassQuery"); ok {
		info.WantMassQuery = v == "1"
	}
	if v, ok := blob.Get("Priority"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.Wrap(errs.NotANonNegativeInteger, v, err)
		}
		info.Priority = &p
	}
	return info, nil
}

// NarInfo fetches and parses GET /<prefix>.narinfo.
func (c *Client) NarInfo(ctx context.Context, prefix string) (*NarInfo, error) {
	path := "/" + prefix + ".narinfo"
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(path, resp.StatusCode)
	}

	blob, err := kv.Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	return narInfoFromBlob(blob)
}

func narInfoFromBlob(blob *kv.Blob) (*NarInfo, error) {
	storePath, err := blob.Require("StorePath")
	if err != nil {
		return nil, err
	}
	narHashStr, err := blob.Require("NarHash")
	if err != nil {
		return nil, err
	}
	narHash, err := filehash.Parse(narHashStr)
	if err != nil {
		return nil, err
	}
	narSizeStr, err := blob.Require("NarSize")
	if err != nil {
		return nil, err
	}
	narSize, err := parseNonNegativeInt(narSizeStr)
	if err != nil {
		return nil, err
	}
	fileHashStr, err := blob.Require("FileHash")
	if err != nil {
		return nil, err
	}
	fileHash, err := filehash.Parse(fileHashStr)
	if err != nil {
		return nil, err
	}
	fileSizeStr, err := blob.Require("FileSize")
	if err != nil {
		return nil, err
	}
	fileSize, err := parseNonNegativeInt(fileSizeStr)
	if err != nil {
		return nil, err
	}

	info := &NarInfo{
		StorePath: storePath,
		NarHash:   narHash,
		NarSize:   narSize,
		FileHash:  fileHash,
		FileSize:  fileSize,
	}
	if v, ok := blob.Get("References"); ok {
		info.References = strings.Fields(v)
	}
	if v, ok := blob.Get("URL"); ok {
		info.URL = v
	}
	// Deriver is intentionally never consumed: see spec.md §9 open
	// question, decided in DESIGN.md.
	return info, nil
}

func parseNonNegativeInt(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, errs.New(errs.NotANonNegativeInteger, s)
	}
	return n, nil
}

// Nar fetches the raw (or gzip-compressed) NAR byte stream at the given
// cache-relative path, e.g. "/nar/<hash>.nar.xz".
func (c *Client) Nar(ctx context.Context, narPath string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, narPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusErr(narPath, resp.StatusCode)
	}
	return decodedBody(resp)
}

// QueryPaths POSTs the fully-qualified closure to /query-paths and returns
// the server's presence map.
func (c *Client) QueryPaths(ctx context.Context, fullPaths []string) (map[string]bool, error) {
	body, err := json.Marshal(fullPaths)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, "/query-paths", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/query-paths", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("/query-paths", resp.StatusCode)
	}

	var result map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errs.Wrap(errs.Transport, "/query-paths", err)
	}
	return result, nil
}

func statusErr(path string, code int) error {
	return errs.New(errs.HTTPStatus, fmt.Sprintf("%s: %d", path, code))
}
