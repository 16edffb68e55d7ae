package ogórek

import (
	"encoding/binary"
	"io"

	"github.com/tliron/commonlog"
)

const (
	frameSizeTarget = 64 * 1024 // frames are committed once they reach this size
	frameSizeMin    = 4         // smaller frames are emitted without FRAME header
	frameHeaderSize = 9         // FRAME + 8-byte length
)

// sink buffers pickle output and splits it into frames.
//
// With framing on, a frame header is reserved in front of the first byte
// written after the previous frame was committed. When the frame is committed
// the header is filled in, or removed if the frame turned out to be too small
// to be worth it. Committed data is flushed to the destination writer.
//
// The first write error is remembered and returned by all subsequent
// operations that touch the writer.
type sink struct {
	w          io.Writer
	buf        []byte
	framing    bool
	frameStart int   // offset of reserved frame header in buf; -1 if no frame is open
	flushed    int64 // bytes already handed to w
	err        error

	log commonlog.Logger
}

func newSink(w io.Writer) *sink {
	return &sink{w: w, frameStart: -1, log: commonlog.GetLogger("ogórek.encode")}
}

// pos returns offset of the next byte to be written in the output stream.
//
// Reserved-but-uncommitted frame header is not counted.
func (s *sink) pos() int64 {
	n := s.flushed + int64(len(s.buf))
	if s.frameStart >= 0 {
		n -= frameHeaderSize
	}
	return n
}

func (s *sink) startFraming() {
	s.framing = true
}

// openFrame reserves frame header if framing is on and no frame is open.
func (s *sink) openFrame() {
	if s.framing && s.frameStart < 0 {
		s.frameStart = len(s.buf)
		s.buf = append(s.buf, make([]byte, frameHeaderSize)...)
	}
}

func (s *sink) write(p []byte) {
	s.openFrame()
	s.buf = append(s.buf, p...)
}

func (s *sink) writeByte(b byte) {
	s.openFrame()
	s.buf = append(s.buf, b)
}

func (s *sink) writeString(str string) {
	s.openFrame()
	s.buf = append(s.buf, str...)
}

// commitFrame finalizes currently open frame, if any.
func (s *sink) commitFrame() {
	if !s.framing || s.frameStart < 0 {
		return
	}
	start := s.frameStart
	size := len(s.buf) - start - frameHeaderSize
	if size >= frameSizeMin {
		s.buf[start] = opFrame
		binary.LittleEndian.PutUint64(s.buf[start+1:], uint64(size))
		if s.log.AllowLevel(commonlog.Debug) {
			s.log.Debugf("frame @%d: %d bytes", s.flushed+int64(start), size)
		}
	} else {
		copy(s.buf[start:], s.buf[start+frameHeaderSize:])
		s.buf = s.buf[:len(s.buf)-frameHeaderSize]
	}
	s.frameStart = -1
}

// opcodeBoundary is called after every complete object is written.
//
// It commits the current frame once it reached target size and streams
// everything committed so far to the writer.
func (s *sink) opcodeBoundary() error {
	if s.err != nil {
		return s.err
	}
	if s.framing {
		if s.frameStart < 0 || len(s.buf)-s.frameStart-frameHeaderSize < frameSizeTarget {
			return nil
		}
		s.commitFrame()
		return s.flush()
	}
	if len(s.buf) >= frameSizeTarget {
		return s.flush()
	}
	return nil
}

// writeLarge emits header + payload of a big bytes-like object.
//
// Large payloads are never put into frames: the current frame is committed,
// header is written unframed, and payload goes to the writer directly without
// copying it into the buffer.
func (s *sink) writeLarge(header, payload []byte) error {
	if len(payload) < frameSizeTarget {
		s.write(header)
		s.write(payload)
		return nil
	}
	s.commitFrame()
	framing := s.framing
	s.framing = false
	s.write(header)
	err := s.flush()
	if err == nil {
		err = s.writeOut(payload)
	}
	s.framing = framing
	return err
}

// finish commits the last frame and flushes all output.
func (s *sink) finish() error {
	s.commitFrame()
	s.framing = false
	return s.flush()
}

// flush writes the buffer to the writer.
//
// There must be no open frame.
func (s *sink) flush() error {
	if s.err != nil {
		return s.err
	}
	err := s.writeOut(s.buf)
	s.buf = s.buf[:0]
	return err
}

// writeOut writes p to the writer retrying short writes.
func (s *sink) writeOut(p []byte) error {
	for len(p) > 0 {
		n, err := s.w.Write(p)
		s.flushed += int64(n)
		p = p[n:]
		if err != nil {
			s.err = err
			return err
		}
		if n == 0 {
			s.err = io.ErrShortWrite
			return s.err
		}
	}
	return nil
}

// reset discards buffered output after a failed dump.
func (s *sink) reset() {
	s.buf = s.buf[:0]
	s.framing = false
	s.frameStart = -1
}
