package embrpc

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/gzip" // registers "gzip", spec.md §6 compression list
)

// ZstdName is the content-coding clients request to get zstd framing
// instead of gzip (spec.md §6 "gzip and zstd are both acceptable;
// negotiated per call like any other gRPC compressor").
const ZstdName = "zstd"

// zstdCompressor implements encoding.Compressor, following the same
// pool-a-writer/pool-a-reader shape grpc's own gzip compressor uses so a
// single process-wide instance can serve concurrent calls.
type zstdCompressor struct {
	writers sync.Pool
	readers sync.Pool
}

func init() {
	z := &zstdCompressor{}
	z.writers.New = func() interface{} {
		enc, err := zstd.NewWriter(io.Discard)
		if err != nil {
			panic(err)
		}
		return enc
	}
	z.readers.New = func() interface{} {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(err)
		}
		return dec
	}
	encoding.RegisterCompressor(z)
}

func (z *zstdCompressor) Name() string { return ZstdName }

type pooledWriteCloser struct {
	*zstd.Encoder
	pool *sync.Pool
}

func (p pooledWriteCloser) Close() error {
	err := p.Encoder.Close()
	p.pool.Put(p.Encoder)
	return err
}

func (z *zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	enc := z.writers.Get().(*zstd.Encoder)
	enc.Reset(w)
	return pooledWriteCloser{Encoder: enc, pool: &z.writers}, nil
}

type pooledReadCloser struct {
	*zstd.Decoder
	pool *sync.Pool
}

func (p pooledReadCloser) Read(b []byte) (int, error) {
	return p.Decoder.Read(b)
}

func (z *zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	dec := z.readers.Get().(*zstd.Decoder)
	if err := dec.Reset(r); err != nil {
		return nil, err
	}
	return pooledReadCloser{Decoder: dec, pool: &z.readers}, nil
}
