package decompress

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

func init() {
	Register(Gzip{}, "x-gzip")
	Register(Deflate{})
	Register(Zstd{})
}

type Gzip struct{}

func (Gzip) Name() string {
	return "gzip"
}

func (Gzip) Decode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Deflate accepts zlib-wrapped data as well as the raw DEFLATE stream
// some servers send instead.
type Deflate struct{}

func (Deflate) Name() string {
	return "deflate"
}

func (Deflate) Decode(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err == nil {
		defer r.Close()
		var out []byte
		out, err = io.ReadAll(r)
		if err == nil {
			return out, nil
		}
	}

	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	out, ferr := io.ReadAll(fr)
	if ferr != nil {
		return nil, err
	}
	return out, nil
}

type Zstd struct{}

func (Zstd) Name() string {
	return "zstd"
}

func (Zstd) Decode(data []byte) ([]byte, error) {
	d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.DecodeAll(data, nil)
}
