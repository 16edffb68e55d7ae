package ogórek

import (
	"errors"
	"fmt"
	"strconv"
)

// Decoding errors.
var (
	ErrInvalidPickleVersion = errors.New("invalid pickle version")

	// ErrStackUnderflow is returned when an opcode needs more stack items
	// than there are above the innermost mark.
	ErrStackUnderflow = errors.New("unpickling stack underflow")
	// ErrUnexpectedMark is the variant of ErrStackUnderflow when the
	// missing items are fenced off by an open MARK.
	ErrUnexpectedMark = errors.New("unexpected MARK found")
	// ErrNoMark is returned by opcodes that consume a marked span when no MARK is open.
	ErrNoMark = errors.New("could not find MARK")

	// ErrMemoKey is returned when GET-family opcode references memo index that was never set.
	ErrMemoKey = errors.New("memo value not found")

	ErrBadExtension = errors.New("bad extension code")
	ErrNoBuffers    = errors.New("pickle stream refers to out-of-band data but no buffers were given")
	ErrBufExhausted = errors.New("not enough out-of-band buffers")
)

// Encoding errors.
var (
	// ErrUnpicklable is returned when an object has no way to be pickled:
	// it is not a known value kind and no reducer handles it.
	ErrUnpicklable = errors.New("cannot pickle object")
	// ErrBadReduce is returned when a reducer returns malformed reduction.
	ErrBadReduce = errors.New("malformed reduction")
	// ErrChangedSize is returned when dict or set is mutated while it is being pickled.
	ErrChangedSize = errors.New("changed size during iteration")
	// ErrRecursion is returned when pickled object graph nests deeper than allowed.
	ErrRecursion = errors.New("maximum recursion depth exceeded while pickling an object")
	// ErrTooLarge is returned for objects whose size cannot be represented at selected protocol.
	ErrTooLarge = errors.New("object too large to pickle")
	// ErrPersistentID is returned for persistent ids that protocol 0 cannot carry.
	ErrPersistentID = errors.New("persistent IDs in protocol 0 must be ASCII strings")
	// ErrGlobalName is returned for module or name of a global that the protocol cannot carry.
	ErrGlobalName = errors.New("can't pickle global identifier")
)

// Configuration errors.
var (
	ErrInvalidProtocol = errors.New("pickle protocol must be <= 5")
	ErrBufferCallback  = errors.New("buffer_callback needs protocol >= 5")
)

// OpcodeError is the error that Decode returns when it sees unknown pickle opcode.
type OpcodeError struct {
	Key byte
	Pos int
}

func (e OpcodeError) Error() string {
	// printable keys are quoted as is, everything else via \x escape
	if ' ' <= e.Key && e.Key < 0x7f {
		return fmt.Sprintf("invalid load key, '%c'.", e.Key)
	}
	return fmt.Sprintf("invalid load key, '\\x%02x'.", e.Key)
}

// DecodeError wraps an error that happened while handling an opcode.
type DecodeError struct {
	Op  byte  // opcode being decoded; 0 if reading the opcode itself failed
	Pos int64 // offset of the opcode in the input
	Err error
}

func (e *DecodeError) Error() string {
	if e.Op == 0 {
		return fmt.Sprintf("pickle: read opcode @%d: %s", e.Pos, e.Err)
	}
	return fmt.Sprintf("pickle: %s @%d: %s", opName(e.Op), e.Pos, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError wraps an error that happened while pickling an object.
type EncodeError struct {
	Type string // Go type of the object being pickled
	Pos  int64  // output offset at which the failure was detected
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("pickle: encode %s @%d: %s", e.Type, e.Pos, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// opName returns pickletools name of an opcode.
func opName(op byte) string {
	if info := opTable[op]; info.name != "" {
		return info.name
	}
	return strconv.QuoteRune(rune(op))
}
