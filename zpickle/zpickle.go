// Package zpickle reads and writes compressed pickle streams.
//
// A compressed pickle is a pickle stream passed through a general purpose
// compressor, as pandas and joblib store them on disk. NewReader detects the
// compression by the magic bytes at the beginning of the stream, so a reader
// accepts plain pickles too.
package zpickle

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/tliron/commonlog"

	ogórek "github.com/kisielk/og-rek/v2"
)

// Compression selects the compressor by name.
type Compression string

const (
	None Compression = "none"
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
	S2   Compression = "s2"
)

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicS2   = []byte("\xff\x06\x00\x00S2sTwO")
)

// magicLen is the number of bytes needed to detect compression.
const magicLen = 10

var log = commonlog.GetLogger("ogórek.zpickle")

// Writer encodes objects into compressed pickle stream.
type Writer struct {
	zw  io.WriteCloser
	enc *ogórek.Encoder
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// NewWriter returns Writer that pickles objects with config and compresses
// them with c into w.
//
// Close must be called to flush the compressed stream.
func NewWriter(w io.Writer, c Compression, config *ogórek.EncoderConfig) (*Writer, error) {
	var zw io.WriteCloser
	switch c {
	case None, "":
		zw = nopCloser{w}
	case Gzip:
		zw = gzip.NewWriter(w)
	case Zstd:
		z, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		zw = z
	case S2:
		zw = s2.NewWriter(w)
	default:
		return nil, fmt.Errorf("zpickle: unknown compression %q", c)
	}
	return &Writer{zw: zw, enc: ogórek.NewEncoderWithConfig(zw, config)}, nil
}

// Encode writes pickle of v.
//
// Objects encoded by several Encode calls share the memo, as with ogórek.Encoder.
func (w *Writer) Encode(v any) error {
	return w.enc.Encode(v)
}

// Close flushes the compressor. It does not close the underlying writer.
func (w *Writer) Close() error {
	return w.zw.Close()
}

// Reader decodes objects from compressed pickle stream.
type Reader struct {
	dec         *ogórek.Decoder
	compression Compression
	close       func() error
}

// NewReader returns Reader that decompresses r and unpickles objects from it
// with config.
func NewReader(r io.Reader, config *ogórek.DecoderConfig) (*Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(magicLen)
	if err != nil && err != io.EOF {
		return nil, err
	}

	zr := &Reader{compression: None, close: func() error { return nil }}
	var src io.Reader = br
	switch {
	case bytes.HasPrefix(head, magicGzip):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		src, zr.compression, zr.close = gz, Gzip, gz.Close
	case bytes.HasPrefix(head, magicZstd):
		z, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		src, zr.compression = z, Zstd
		zr.close = func() error { z.Close(); return nil }
	case bytes.HasPrefix(head, magicS2):
		src, zr.compression = s2.NewReader(br), S2
	}
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("compression: %s", zr.compression)
	}

	zr.dec = ogórek.NewDecoderWithConfig(src, config)
	return zr, nil
}

// Compression returns compression detected in the stream.
func (r *Reader) Compression() Compression {
	return r.compression
}

// Decode reads next object. io.EOF is returned at the end of the stream.
func (r *Reader) Decode() (any, error) {
	return r.dec.Decode()
}

// Close releases the decompressor. It does not close the underlying reader.
func (r *Reader) Close() error {
	return r.close()
}

// Dumps returns compressed pickle of v.
func Dumps(v any, c Compression, config *ogórek.EncoderConfig) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, c, config)
	if err != nil {
		return nil, err
	}
	if err := w.Encode(v); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Loads decodes one object from possibly compressed pickle data.
func Loads(data []byte, config *ogórek.DecoderConfig) (any, error) {
	r, err := NewReader(bytes.NewReader(data), config)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Decode()
}
