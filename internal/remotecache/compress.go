package remotecache

import (
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
)

const requestTimeout = 30 * time.Second

// compressionThreshold is the minimum payload size in bytes below which
// the client sends bodies uncompressed: zstd's frame overhead makes
// compression counterproductive for small blobs.
const compressionThreshold = 1024

// decodeBody wraps r.Body with a zstd decoder when the client sent
// Content-Encoding: zstd, otherwise returns the body unchanged.
func decodeBody(r *http.Request) (io.ReadCloser, error) {
	if r.Header.Get("Content-Encoding") != "zstd" {
		return r.Body, nil
	}
	dec, err := zstd.NewReader(r.Body)
	if err != nil {
		return nil, err
	}
	return &zstdReadCloser{dec: dec, underlying: r.Body}, nil
}

// zstdReadCloser adapts a *zstd.Decoder (which exposes Close with no
// return value) to io.ReadCloser, closing the underlying HTTP body too.
type zstdReadCloser struct {
	dec        *zstd.Decoder
	underlying io.ReadCloser
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.underlying.Close()
}
