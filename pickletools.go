package ogórek

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// argKind describes how an opcode argument is laid out in the stream.
type argKind uint8

const (
	argNone      argKind = iota
	argUint1             // 1-byte unsigned
	argUint2             // 2-byte unsigned little-endian
	argInt4              // 4-byte signed little-endian
	argUint4             // 4-byte unsigned little-endian
	argUint8             // 8-byte unsigned little-endian
	argDecimalNL         // decimal integer followed by \n
	argLongNL            // decimal integer with optional trailing L, followed by \n
	argFloatNL           // float repr followed by \n
	argStringNL          // quoted string followed by \n
	argStringNL2         // two \n terminated lines: module and name
	argUnicodeNL         // raw-unicode-escaped text followed by \n
	argRawNL             // raw \n terminated line
	argString1           // uint1 length + data
	argString4           // int4 length + data
	argBytes4            // uint4 length + data
	argBytes8            // uint8 length + data
	argLong1             // uint1 length + two's complement data
	argLong4             // int4 length + two's complement data
	argFloat8            // 8-byte big-endian IEEE 754
)

// opInfo is metadata about one opcode.
type opInfo struct {
	name  string
	proto int // protocol that introduced the opcode
	arg   argKind
	mark  int // +1 if the opcode pushes a mark, -1 if it consumes one
}

var opTable = [256]opInfo{
	opMark:           {"MARK", 0, argNone, +1},
	opStop:           {"STOP", 0, argNone, 0},
	opPop:            {"POP", 0, argNone, 0},
	opPopMark:        {"POP_MARK", 1, argNone, -1},
	opDup:            {"DUP", 0, argNone, 0},
	opFloat:          {"FLOAT", 0, argFloatNL, 0},
	opInt:            {"INT", 0, argDecimalNL, 0},
	opBinint:         {"BININT", 1, argInt4, 0},
	opBinint1:        {"BININT1", 1, argUint1, 0},
	opLong:           {"LONG", 0, argLongNL, 0},
	opBinint2:        {"BININT2", 1, argUint2, 0},
	opNone:           {"NONE", 0, argNone, 0},
	opPersid:         {"PERSID", 0, argRawNL, 0},
	opBinpersid:      {"BINPERSID", 1, argNone, 0},
	opReduce:         {"REDUCE", 0, argNone, 0},
	opString:         {"STRING", 0, argStringNL, 0},
	opBinstring:      {"BINSTRING", 1, argString4, 0},
	opShortBinstring: {"SHORT_BINSTRING", 1, argString1, 0},
	opUnicode:        {"UNICODE", 0, argUnicodeNL, 0},
	opBinunicode:     {"BINUNICODE", 1, argBytes4, 0},
	opAppend:         {"APPEND", 0, argNone, 0},
	opBuild:          {"BUILD", 0, argNone, 0},
	opGlobal:         {"GLOBAL", 0, argStringNL2, 0},
	opDict:           {"DICT", 0, argNone, -1},
	opEmptyDict:      {"EMPTY_DICT", 1, argNone, 0},
	opAppends:        {"APPENDS", 1, argNone, -1},
	opGet:            {"GET", 0, argDecimalNL, 0},
	opBinget:         {"BINGET", 1, argUint1, 0},
	opInst:           {"INST", 0, argStringNL2, -1},
	opLongBinget:     {"LONG_BINGET", 1, argUint4, 0},
	opList:           {"LIST", 0, argNone, -1},
	opEmptyList:      {"EMPTY_LIST", 1, argNone, 0},
	opObj:            {"OBJ", 1, argNone, -1},
	opPut:            {"PUT", 0, argDecimalNL, 0},
	opBinput:         {"BINPUT", 1, argUint1, 0},
	opLongBinput:     {"LONG_BINPUT", 1, argUint4, 0},
	opSetitem:        {"SETITEM", 0, argNone, 0},
	opTuple:          {"TUPLE", 0, argNone, -1},
	opEmptyTuple:     {"EMPTY_TUPLE", 1, argNone, 0},
	opSetitems:       {"SETITEMS", 1, argNone, -1},
	opBinfloat:       {"BINFLOAT", 1, argFloat8, 0},

	opProto:    {"PROTO", 2, argUint1, 0},
	opNewobj:   {"NEWOBJ", 2, argNone, 0},
	opExt1:     {"EXT1", 2, argUint1, 0},
	opExt2:     {"EXT2", 2, argUint2, 0},
	opExt4:     {"EXT4", 2, argInt4, 0},
	opTuple1:   {"TUPLE1", 2, argNone, 0},
	opTuple2:   {"TUPLE2", 2, argNone, 0},
	opTuple3:   {"TUPLE3", 2, argNone, 0},
	opNewtrue:  {"NEWTRUE", 2, argNone, 0},
	opNewfalse: {"NEWFALSE", 2, argNone, 0},
	opLong1:    {"LONG1", 2, argLong1, 0},
	opLong4:    {"LONG4", 2, argLong4, 0},

	opBinbytes:      {"BINBYTES", 3, argBytes4, 0},
	opShortBinbytes: {"SHORT_BINBYTES", 3, argString1, 0},

	opShortBinUnicode: {"SHORT_BINUNICODE", 4, argString1, 0},
	opBinunicode8:     {"BINUNICODE8", 4, argBytes8, 0},
	opBinbytes8:       {"BINBYTES8", 4, argBytes8, 0},
	opEmptySet:        {"EMPTY_SET", 4, argNone, 0},
	opAddItems:        {"ADDITEMS", 4, argNone, -1},
	opFrozenSet:       {"FROZENSET", 4, argNone, -1},
	opNewobjEx:        {"NEWOBJ_EX", 4, argNone, 0},
	opStackGlobal:     {"STACK_GLOBAL", 4, argNone, 0},
	opMemoize:         {"MEMOIZE", 4, argNone, 0},
	opFrame:           {"FRAME", 4, argUint8, 0},

	opBytearray8:     {"BYTEARRAY8", 5, argBytes8, 0},
	opNextBuffer:     {"NEXT_BUFFER", 5, argNone, 0},
	opReadOnlyBuffer: {"READONLY_BUFFER", 5, argNone, 0},
}

// Op is one decoded pickle instruction.
type Op struct {
	Code  byte
	Name  string
	Proto int   // protocol that introduced the opcode
	Pos   int64 // offset of the opcode in the stream
	// Arg is the decoded argument: int64, uint64, float64, string, []byte,
	// *big.Int, [2]string for GLOBAL/INST, or nil for opcodes without argument.
	Arg any
}

// OpReader reads pickle stream instruction by instruction without executing
// it, similarly to Python's pickletools.genops.
//
// Frames are not interpreted: FRAME is reported as an ordinary instruction
// and the framed instructions follow it.
type OpReader struct {
	r    *bufio.Reader
	pos  int64
	done bool
}

// NewOpReader returns OpReader reading instructions from r.
func NewOpReader(r io.Reader) *OpReader {
	return &OpReader{r: bufio.NewReader(r)}
}

// Next returns next instruction.
//
// io.EOF is returned after STOP was read. Stream ending before STOP results
// in io.ErrUnexpectedEOF.
func (o *OpReader) Next() (op Op, err error) {
	if o.done {
		return op, io.EOF
	}
	op.Pos = o.pos
	op.Code, err = o.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return op, err
	}
	o.pos++
	info := opTable[op.Code]
	if info.name == "" {
		return op, OpcodeError{Key: op.Code, Pos: int(op.Pos)}
	}
	op.Name = info.name
	op.Proto = info.proto
	op.Arg, err = o.readArg(info.arg)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return op, fmt.Errorf("pickle: %s @%d: %w", op.Name, op.Pos, err)
	}
	if op.Code == opStop {
		o.done = true
	}
	return op, nil
}

func (o *OpReader) read(n uint64) ([]byte, error) {
	if n > math.MaxInt32 {
		return nil, fmt.Errorf("argument too large: %d bytes", n)
	}
	// don't preallocate for sizes we did not see data for yet
	var b strings.Builder
	b.Grow(int(min(n, 0x10000)))
	m, err := io.CopyN(&b, o.r, int64(n))
	o.pos += m
	return []byte(b.String()), err
}

func (o *OpReader) readLine() (string, error) {
	line, err := o.r.ReadString('\n')
	o.pos += int64(len(line))
	if err != nil {
		return "", err
	}
	return line[:len(line)-1], nil
}

func (o *OpReader) readUint(n int) (uint64, error) {
	b, err := o.read(uint64(n))
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (o *OpReader) readArg(kind argKind) (any, error) {
	switch kind {
	case argNone:
		return nil, nil

	case argUint1, argUint2, argUint4, argUint8:
		size := map[argKind]int{argUint1: 1, argUint2: 2, argUint4: 4, argUint8: 8}[kind]
		return o.readUint(size)

	case argInt4:
		u, err := o.readUint(4)
		return int64(int32(u)), err

	case argDecimalNL, argLongNL, argRawNL, argStringNL:
		line, err := o.readLine()
		if err != nil {
			return nil, err
		}
		if kind == argDecimalNL || kind == argLongNL {
			if kind == argLongNL {
				line = strings.TrimSuffix(line, "L")
			}
			if i, err := strconv.ParseInt(line, 10, 64); err == nil {
				return i, nil
			}
			if v, ok := parseBigInt(line); ok {
				return v, nil
			}
			return nil, fmt.Errorf("invalid integer %q", line)
		}
		return line, nil

	case argFloatNL:
		line, err := o.readLine()
		if err != nil {
			return nil, err
		}
		return strconv.ParseFloat(line, 64)

	case argStringNL2:
		module, err := o.readLine()
		if err != nil {
			return nil, err
		}
		name, err := o.readLine()
		if err != nil {
			return nil, err
		}
		return [2]string{module, name}, nil

	case argUnicodeNL:
		line, err := o.readLine()
		if err != nil {
			return nil, err
		}
		return pydecodeRawUnicodeEscape(line)

	case argString1, argLong1:
		n, err := o.readUint(1)
		if err != nil {
			return nil, err
		}
		data, err := o.read(n)
		if err != nil || kind == argString1 {
			return data, err
		}
		return normInt(decodeLong(data)), nil

	case argString4, argLong4:
		u, err := o.readUint(4)
		if err != nil {
			return nil, err
		}
		n := int32(u)
		if n < 0 {
			return nil, fmt.Errorf("negative byte count %d", n)
		}
		data, err := o.read(uint64(n))
		if err != nil || kind == argString4 {
			return data, err
		}
		return normInt(decodeLong(data)), nil

	case argBytes4, argBytes8:
		size := 4
		if kind == argBytes8 {
			size = 8
		}
		n, err := o.readUint(size)
		if err != nil {
			return nil, err
		}
		return o.read(n)

	case argFloat8:
		b, err := o.read(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	}
	panic("unreachable")
}

// Disassemble writes symbolic listing of the pickle in data to w.
//
// The format follows Python's pickletools.dis: one instruction per line with
// its offset, and nesting between MARK and the opcode that consumes it shown
// by indentation.
func Disassemble(w io.Writer, data []byte) error {
	o := NewOpReader(strings.NewReader(string(data)))
	level := 0
	for {
		op, err := o.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		info := opTable[op.Code]
		if info.mark < 0 && level > 0 {
			level--
		}
		code := strconv.QuoteToASCII(string([]byte{op.Code}))
		code = code[1 : len(code)-1]
		line := fmt.Sprintf("%5d: %-4s %s%s", op.Pos, code, strings.Repeat(" ", 4*level), op.Name)
		if op.Arg != nil {
			line += " " + sprintArg(op.Arg)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		if info.mark > 0 {
			level++
		}
	}
}

func sprintArg(arg any) string {
	switch a := arg.(type) {
	case []byte:
		return strconv.Quote(string(a))
	case string:
		return strconv.Quote(a)
	case [2]string:
		return strconv.Quote(a[0] + " " + a[1])
	}
	return fmt.Sprint(arg)
}
