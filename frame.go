package ogórek

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
)

// prefetchSize is the size of read buffer in front of the input.
const prefetchSize = 128 * 1024

var (
	errFrameOverlap   = errors.New("beginning of a new frame before end of current frame")
	errFrameExhausted = errors.New("pickle exhausted before end of frame")
)

// unframer reads pickle data from the input, transparently serving reads from
// the current frame while there is one.
//
// A frame is read from the input as a whole when FRAME opcode is seen. Reads
// of opcodes and their arguments are then served from the frame until it is
// exhausted, after which reading continues from the input. An argument must
// not straddle frame boundary.
type unframer struct {
	r       *bufio.Reader
	frame   []byte // unread part of the current frame
	inFrame bool
	nread   int64 // bytes consumed from r
	fbuf    bytes.Buffer
	line    []byte // reusable buffer for readLine
}

func newUnframer(r io.Reader) *unframer {
	return &unframer{r: bufio.NewReaderSize(r, prefetchSize)}
}

// pos returns offset of the next unread byte in the stream.
func (u *unframer) pos() int64 {
	return u.nread - int64(len(u.frame))
}

// fromFrame tells whether next read of n bytes is served by current frame.
//
// A fully consumed frame is closed here.
func (u *unframer) fromFrame(n uint64) (bool, error) {
	if !u.inFrame {
		return false, nil
	}
	if len(u.frame) == 0 {
		u.inFrame = false
		return false, nil
	}
	if uint64(len(u.frame)) < n {
		return true, errFrameExhausted
	}
	return true, nil
}

func (u *unframer) ReadByte() (byte, error) {
	in, err := u.fromFrame(1)
	if err != nil {
		return 0, err
	}
	if in {
		b := u.frame[0]
		u.frame = u.frame[1:]
		return b, nil
	}
	b, err := u.r.ReadByte()
	if err == nil {
		u.nread++
	}
	return b, err
}

// readFull reads exactly len(p) bytes.
func (u *unframer) readFull(p []byte) error {
	in, err := u.fromFrame(uint64(len(p)))
	if err != nil {
		return err
	}
	if in {
		copy(p, u.frame)
		u.frame = u.frame[len(p):]
		return nil
	}
	n, err := io.ReadFull(u.r, p)
	u.nread += int64(n)
	return err
}

// readLine reads next line from pickle stream.
//
// returned line does not contain \n.
// returned line is valid only till next read.
func (u *unframer) readLine() ([]byte, error) {
	if u.inFrame {
		if len(u.frame) == 0 {
			u.inFrame = false
		} else {
			i := bytes.IndexByte(u.frame, '\n')
			if i < 0 {
				return nil, errFrameExhausted
			}
			line := u.frame[:i]
			u.frame = u.frame[i+1:]
			return line, nil
		}
	}

	var (
		data []byte
		err  error
	)
	u.line = u.line[:0]
	for {
		data, err = u.r.ReadSlice('\n')
		u.nread += int64(len(data))
		u.line = append(u.line, data...)

		// either have read till \n or got another error
		if err != bufio.ErrBufferFull {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	// trim trailing \n
	return u.line[:len(u.line)-1], nil
}

// readInto reads n bytes appending them to buf.
func (u *unframer) readInto(buf *bytes.Buffer, n uint64) error {
	in, err := u.fromFrame(n)
	if err != nil {
		return err
	}
	if in {
		buf.Write(u.frame[:n])
		u.frame = u.frame[n:]
		return nil
	}
	if n > math.MaxInt64 {
		return fmt.Errorf("size([]data) > maxint64")
	}
	// don't allow malicious `BINSTRING <bigsize> nodata` to make us out of memory
	buf.Grow(int(min(n, 0x10000)))
	m, err := io.CopyN(buf, u.r, int64(n))
	u.nread += m
	return err
}

// loadFrame reads next frame of n bytes from the input.
func (u *unframer) loadFrame(n uint64) error {
	if u.inFrame && len(u.frame) > 0 {
		return errFrameOverlap
	}
	u.inFrame = false
	u.frame = nil
	u.fbuf.Reset()
	if err := u.readInto(&u.fbuf, n); err != nil {
		return err
	}
	u.frame = u.fbuf.Bytes()
	u.inFrame = true
	return nil
}
