package ogórek

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"

	"github.com/tliron/commonlog"
)

// Opcodes
const (
	// Protocol 0

	opMark    byte = '(' // push special markobject on stack
	opStop    byte = '.' // every pickle ends with STOP
	opPop     byte = '0' // discard topmost stack item
	opDup     byte = '2' // duplicate top stack item
	opFloat   byte = 'F' // push float object; decimal string argument
	opInt     byte = 'I' // push integer or bool; decimal string argument
	opLong    byte = 'L' // push long; decimal string argument
	opNone    byte = 'N' // push None
	opPersid  byte = 'P' // push persistent object; id is taken from string arg
	opReduce  byte = 'R' // apply callable to argtuple, both on stack
	opString  byte = 'S' // push string; NL-terminated string argument
	opUnicode byte = 'V' // push Unicode string; raw-unicode-escaped"d argument
	opAppend  byte = 'a' // append stack top to list below it
	opBuild   byte = 'b' // call __setstate__ or __dict__.update()
	opGlobal  byte = 'c' // push self.find_class(modname, name); 2 string args
	opDict    byte = 'd' // build a dict from stack items
	opGet     byte = 'g' // push item from memo on stack; index is string arg
	opInst    byte = 'i' // build & push class instance
	opList    byte = 'l' // build list from topmost stack items
	opPut     byte = 'p' // store stack top in memo; index is string arg
	opSetitem byte = 's' // add key+value pair to dict
	opTuple   byte = 't' // build tuple from topmost stack items

	opTrue  = "I01\n" // not an opcode; see INT docs in pickletools.py
	opFalse = "I00\n" // not an opcode; see INT docs in pickletools.py

	// Protocol 1

	opPopMark        byte = '1' // discard stack top through topmost markobject
	opBinint         byte = 'J' // push four-byte signed int
	opBinint1        byte = 'K' // push 1-byte unsigned int
	opBinint2        byte = 'M' // push 2-byte unsigned int
	opBinpersid      byte = 'Q' // push persistent object; id is taken from stack
	opBinstring      byte = 'T' // push string; counted binary string argument
	opShortBinstring byte = 'U' //  "     "   ;    "      "       "      " < 256 bytes
	opBinunicode     byte = 'X' // push Unicode string; counted UTF-8 string argument
	opAppends        byte = 'e' // extend list on stack by topmost stack slice
	opBinget         byte = 'h' // push item from memo on stack; index is 1-byte arg
	opLongBinget     byte = 'j' //  "    "    "    "    "   "  ;   "    " 4-byte arg
	opEmptyList      byte = ']' // push empty list
	opEmptyTuple     byte = ')' // push empty tuple
	opEmptyDict      byte = '}' // push empty dict
	opObj            byte = 'o' // build & push class instance
	opBinput         byte = 'q' // store stack top in memo; index is 1-byte arg
	opLongBinput     byte = 'r' //   "     "    "   "   " ;   "    " 4-byte arg
	opSetitems       byte = 'u' // modify dict by adding topmost key+value pairs
	opBinfloat       byte = 'G' // push float; arg is 8-byte float encoding

	// Protocol 2

	opProto    byte = '\x80' // identify pickle protocol
	opNewobj   byte = '\x81' // build object by applying cls.__new__ to argtuple
	opExt1     byte = '\x82' // push object from extension registry; 1-byte index
	opExt2     byte = '\x83' // ditto, but 2-byte index
	opExt4     byte = '\x84' // ditto, but 4-byte index
	opTuple1   byte = '\x85' // build 1-tuple from stack top
	opTuple2   byte = '\x86' // build 2-tuple from two topmost stack items
	opTuple3   byte = '\x87' // build 3-tuple from three topmost stack items
	opNewtrue  byte = '\x88' // push True
	opNewfalse byte = '\x89' // push False
	opLong1    byte = '\x8a' // push long from < 256 bytes
	opLong4    byte = '\x8b' // push really big long

	// Protocol 3

	opBinbytes      byte = 'B' // push a Python bytes object (len ule32; [len]data)
	opShortBinbytes byte = 'C' //  "     "      "      "     (len ule8; [len]data)

	// Protocol 4

	opShortBinUnicode byte = '\x8c' // push short string; UTF-8 length < 256 bytes
	opBinunicode8     byte = '\x8d' // push Unicode string (len ule64; [len]data)
	opBinbytes8       byte = '\x8e' // push a Python bytes object (len ule64; [len]data)
	opEmptySet        byte = '\x8f' // push empty set
	opAddItems        byte = '\x90' // add items to existing set
	opFrozenSet       byte = '\x91' // build a frozenset out of mark..top
	opNewobjEx        byte = '\x92' // build object: cls argv kw -> cls.__new__(*argv, **kw)
	opStackGlobal     byte = '\x93' // same as OpGlobal but using names on the stacks
	opMemoize         byte = '\x94' // store top of the stack in memo
	opFrame           byte = '\x95' // indicate the beginning of a new frame

	// Protocol 5

	opBytearray8     byte = '\x96' // push a Python bytearray object (len ule64; [len]data)
	opNextBuffer     byte = '\x97' // push next out-of-band buffer
	opReadOnlyBuffer byte = '\x98' // turn out-of-band buffer at stack top to be read-only
)

// Decoder is a decoder for pickle streams.
//
// Decoder is not safe for concurrent use. Several pickles can be decoded one
// after another from the same stream; memo is shared in between them.
type Decoder struct {
	r      *unframer
	config *DecoderConfig
	stack  stack
	memo   decodeMemo

	// a reusable buffer that can be used by the various decoding functions
	// functions using this should call buf.Reset to clear the old contents
	buf bytes.Buffer

	// protocol version seen in last PROTO opcode; 0 by default.
	protocol int

	opPos int64 // position of the opcode being decoded
	nbuf  int   // out-of-band buffers consumed so far

	extCache map[int32]any
	str      *strCodec

	log commonlog.Logger
}

// DecoderConfig allows to tune Decoder.
type DecoderConfig struct {
	// PersistentLoad, if !nil, will be used by decoder to handle persistent references.
	//
	// Whenever the decoder finds an object reference in the pickle stream
	// it will call PersistentLoad. If PersistentLoad returns !nil object
	// without error, the decoder will use that object instead of Ref in
	// the resulted built Go object.
	//
	// An example use-case for PersistentLoad is to transform persistent
	// references in a ZODB database of form (type, oid) tuple, into
	// equivalent-to-type Go ghost object, e.g. equivalent to zodb.BTree.
	//
	// See Ref documentation for more details.
	PersistentLoad func(ref Ref) (any, error)

	// FindClass, if !nil, resolves globals referenced by GLOBAL,
	// STACK_GLOBAL, INST and EXT* opcodes. Returning nil object without
	// error leaves the global represented as Class.
	FindClass func(module, name string) (any, error)

	// Call, if !nil, is consulted first when REDUCE, INST or OBJ applies a
	// callable to arguments. Returning nil object without error makes the
	// decoder handle the call itself.
	Call func(callable any, args Tuple) (any, error)

	// New, if !nil, is consulted first when an object is created via
	// cls.__new__(cls, *args, **kwargs), e.g. by NEWOBJ. Returning nil
	// object without error produces *Object.
	New func(cls any, args Tuple, kwargs Dict) (any, error)

	// FixImports enables translation of Python 2 module and global names to
	// their Python 3 equivalents for pickles of protocol < 3.
	FixImports bool

	// Encoding selects how Python 2 str (STRING, BINSTRING,
	// SHORT_BINSTRING) is decoded:
	//
	//	""       ByteString (default)
	//	"bytes"  Bytes
	//	other    string decoded with named text encoding, e.g. "ascii" or "latin1"
	Encoding string
	// Errors is the error handling scheme for Encoding: "strict" (default),
	// "replace" or "ignore".
	Errors string

	// Buffers provides data for NEXT_BUFFER opcodes, in order.
	//
	// Decoding a pickle that references out-of-band data fails with
	// ErrNoBuffers if Buffers is nil.
	Buffers []*PickleBuffer

	// Extensions is the registry used to resolve EXT* opcodes.
	// DefaultExtensions is used if nil.
	Extensions *ExtensionRegistry
}

// NewDecoder constructs a new Decoder which will decode the pickle stream in r.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderWithConfig(r, &DecoderConfig{})
}

// NewDecoderWithConfig is similar to NewDecoder, but allows specifying decoder configuration.
func NewDecoderWithConfig(r io.Reader, config *DecoderConfig) *Decoder {
	if config == nil {
		config = &DecoderConfig{}
	}
	return &Decoder{
		r:      newUnframer(r),
		config: config,
		log:    commonlog.GetLogger("ogórek.decode"),
	}
}

// Loads decodes one object from pickle data.
//
// nil config selects the defaults.
func Loads(data []byte, config *DecoderConfig) (any, error) {
	return NewDecoderWithConfig(bytes.NewReader(data), config).Decode()
}

// dispatch maps opcodes to their handlers.
var dispatch [256]func(*Decoder) error

func init() {
	dispatch = [256]func(*Decoder) error{
		opMark:    (*Decoder).loadMark,
		opPop:     (*Decoder).loadPop,
		opPopMark: (*Decoder).loadPopMark,
		opDup:     (*Decoder).loadDup,

		opNone:     (*Decoder).loadNone,
		opNewtrue:  (*Decoder).loadNewTrue,
		opNewfalse: (*Decoder).loadNewFalse,
		opInt:      (*Decoder).loadInt,
		opBinint:   (*Decoder).loadBinInt,
		opBinint1:  (*Decoder).loadBinInt1,
		opBinint2:  (*Decoder).loadBinInt2,
		opLong:     (*Decoder).loadLong,
		opLong1:    (*Decoder).loadLong1,
		opLong4:    (*Decoder).loadLong4,
		opFloat:    (*Decoder).loadFloat,
		opBinfloat: (*Decoder).loadBinFloat,

		opString:          (*Decoder).loadString,
		opBinstring:       (*Decoder).loadBinString,
		opShortBinstring:  (*Decoder).loadShortBinString,
		opUnicode:         (*Decoder).loadUnicode,
		opBinunicode:      (*Decoder).loadBinUnicode,
		opBinunicode8:     (*Decoder).loadBinUnicode8,
		opShortBinUnicode: (*Decoder).loadShortBinUnicode,
		opBinbytes:        (*Decoder).loadBinBytes,
		opShortBinbytes:   (*Decoder).loadShortBinBytes,
		opBinbytes8:       (*Decoder).loadBinBytes8,
		opBytearray8:      (*Decoder).loadBytearray8,
		opNextBuffer:      (*Decoder).loadNextBuffer,
		opReadOnlyBuffer:  (*Decoder).loadReadOnlyBuffer,

		opEmptyTuple: (*Decoder).loadEmptyTuple,
		opTuple:      (*Decoder).loadTuple,
		opTuple1:     (*Decoder).loadTuple1,
		opTuple2:     (*Decoder).loadTuple2,
		opTuple3:     (*Decoder).loadTuple3,
		opEmptyList:  (*Decoder).loadEmptyList,
		opList:       (*Decoder).loadList,
		opAppend:     (*Decoder).loadAppend,
		opAppends:    (*Decoder).loadAppends,
		opEmptyDict:  (*Decoder).loadEmptyDict,
		opDict:       (*Decoder).loadDict,
		opSetitem:    (*Decoder).loadSetItem,
		opSetitems:   (*Decoder).loadSetItems,
		opEmptySet:   (*Decoder).loadEmptySet,
		opAddItems:   (*Decoder).loadAddItems,
		opFrozenSet:  (*Decoder).loadFrozenSet,

		opGet:        (*Decoder).loadGet,
		opBinget:     (*Decoder).loadBinGet,
		opLongBinget: (*Decoder).loadLongBinGet,
		opPut:        (*Decoder).loadPut,
		opBinput:     (*Decoder).loadBinPut,
		opLongBinput: (*Decoder).loadLongBinPut,
		opMemoize:    (*Decoder).loadMemoize,

		opPersid:      (*Decoder).loadPersid,
		opBinpersid:   (*Decoder).loadBinPersid,
		opGlobal:      (*Decoder).loadGlobal,
		opStackGlobal: (*Decoder).loadStackGlobal,
		opExt1:        (*Decoder).loadExt1,
		opExt2:        (*Decoder).loadExt2,
		opExt4:        (*Decoder).loadExt4,
		opReduce:      (*Decoder).loadReduce,
		opBuild:       (*Decoder).loadBuild,
		opInst:        (*Decoder).loadInst,
		opObj:         (*Decoder).loadObj,
		opNewobj:      (*Decoder).loadNewObj,
		opNewobjEx:    (*Decoder).loadNewObjEx,

		opProto: (*Decoder).loadProto,
		opFrame: (*Decoder).loadFrame,
	}
}

// Decode decodes the pickle stream and returns the result or an error.
//
// io.EOF is returned if the stream ends before the first opcode, and
// io.ErrUnexpectedEOF if it ends in the middle of a pickle.
func (d *Decoder) Decode() (any, error) {
	d.stack.reset()
	d.protocol = 0
	trace := d.log.AllowLevel(commonlog.Debug)

	insn := 0
	for {
		d.opPos = d.r.pos()
		key, err := d.r.ReadByte()
		if err != nil {
			switch {
			case err != io.EOF:
				err = &DecodeError{Pos: d.opPos, Err: err}
			case insn != 0:
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		insn++

		if trace {
			d.log.Debugf("@%d %s  stack=%d marks=%d", d.opPos, opName(key), d.stack.len(), len(d.stack.marks))
		}

		if key == opStop {
			break
		}
		load := dispatch[key]
		if load == nil {
			return nil, OpcodeError{Key: key, Pos: int(d.opPos)}
		}
		if err := load(d); err != nil {
			return nil, d.opError(key, err)
		}
	}

	v, err := d.stack.pop()
	if err != nil {
		return nil, d.opError(opStop, err)
	}
	return v, nil
}

// opError wraps error of an opcode handler.
func (d *Decoder) opError(op byte, err error) error {
	// EOF from individual opcode decoder is unexpected end of stream
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return io.ErrUnexpectedEOF
	}
	return &DecodeError{Op: op, Pos: d.opPos, Err: err}
}

func (d *Decoder) push(v any) {
	d.stack.push(v)
}

func (d *Decoder) readLine() ([]byte, error) {
	return d.r.readLine()
}

func (d *Decoder) readUint(n int) (uint64, error) {
	var b [8]byte
	if err := d.r.readFull(b[:n]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (d *Decoder) loadMark() error {
	d.stack.pushMark()
	return nil
}

func (d *Decoder) loadPop() error {
	return d.stack.popOrUnmark()
}

// Discard the stack through to the topmost marker
func (d *Decoder) loadPopMark() error {
	k, err := d.stack.popMark()
	if err != nil {
		return err
	}
	d.stack.truncate(k)
	return nil
}

// Duplicate the top stack item
func (d *Decoder) loadDup() error {
	v, err := d.stack.top()
	if err != nil {
		return err
	}
	d.push(v)
	return nil
}

func (d *Decoder) loadNone() error {
	d.push(None{})
	return nil
}

func (d *Decoder) loadNewTrue() error {
	d.push(true)
	return nil
}

func (d *Decoder) loadNewFalse() error {
	d.push(false)
	return nil
}

// Push an int
func (d *Decoder) loadInt() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}

	var val any

	switch string(line) {
	case opFalse[1:3]:
		val = false
	case opTrue[1:3]:
		val = true
	default:
		val, err = parseInt(string(line))
		if err != nil {
			return err
		}
	}

	d.push(val)
	return nil
}

// Push a four-byte signed int
func (d *Decoder) loadBinInt() error {
	v, err := d.readUint(4)
	if err != nil {
		return err
	}
	d.push(int64(int32(v))) // NOTE signed: uint32 -> int32, and only then -> int64
	return nil
}

// Push a 1-byte unsigned int
func (d *Decoder) loadBinInt1() error {
	b, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	d.push(int64(b))
	return nil
}

// Push a 2-byte unsigned int
func (d *Decoder) loadBinInt2() error {
	v, err := d.readUint(2)
	if err != nil {
		return err
	}
	d.push(int64(v))
	return nil
}

// Push a long
func (d *Decoder) loadLong() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	// Python 2 writes longs with trailing L
	if l := len(line); l > 0 && line[l-1] == 'L' {
		line = line[:l-1]
	}
	v, err := parseInt(string(line))
	if err != nil {
		return err
	}
	d.push(v)
	return nil
}

// Push a long1
func (d *Decoder) loadLong1() error {
	n, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	if err := d.bufLoadBytesData(uint64(n)); err != nil {
		return err
	}
	d.push(normInt(decodeLong(d.buf.Bytes())))
	return nil
}

// Push a long4
func (d *Decoder) loadLong4() error {
	v, err := d.readUint(4)
	if err != nil {
		return err
	}
	n := int32(v)
	if n < 0 {
		return fmt.Errorf("LONG pickle has negative byte count")
	}
	if err := d.bufLoadBytesData(uint64(n)); err != nil {
		return err
	}
	d.push(normInt(decodeLong(d.buf.Bytes())))
	return nil
}

// Push a float
func (d *Decoder) loadFloat() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	v, err := strconv.ParseFloat(string(line), 64)
	if err != nil {
		return err
	}
	d.push(v)
	return nil
}

// Push a float, 8-byte big-endian IEEE 754
func (d *Decoder) loadBinFloat() error {
	var b [8]byte
	if err := d.r.readFull(b[:]); err != nil {
		return err
	}
	d.push(math.Float64frombits(binary.BigEndian.Uint64(b[:])))
	return nil
}

// Push a string
func (d *Decoder) loadString() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}

	if len(line) < 2 || line[0] != line[len(line)-1] || (line[0] != '\'' && line[0] != '"') {
		return fmt.Errorf("the STRING opcode argument must be quoted")
	}

	s, err := pydecodeStringEscape(string(line[1 : len(line)-1]))
	if err != nil {
		return err
	}
	return d.pushLegacyString([]byte(s))
}

// pushLegacyString pushes py2 str data decoded according to the configuration.
func (d *Decoder) pushLegacyString(data []byte) error {
	switch d.config.Encoding {
	case "":
		d.push(ByteString(data))
		return nil
	case "bytes":
		d.push(Bytes(data))
		return nil
	}

	if d.str == nil {
		c, err := newStrCodec(d.config.Encoding, d.config.Errors)
		if err != nil {
			return err
		}
		d.str = c
	}
	s, err := d.str.decode(data)
	if err != nil {
		return err
	}
	d.push(s)
	return nil
}

// bufLoadBytesData fetches [l]data into d.buf.
func (d *Decoder) bufLoadBytesData(l uint64) error {
	d.buf.Reset()
	return d.r.readInto(&d.buf, l)
}

// bufLoadBinData decodes `len(LEn) [len]data` into d.buf .
func (d *Decoder) bufLoadBinData(n int) error {
	l, err := d.readUint(n)
	if err != nil {
		return err
	}
	return d.bufLoadBytesData(l)
}

func (d *Decoder) loadBinString() error {
	v, err := d.readUint(4)
	if err != nil {
		return err
	}
	n := int32(v)
	if n < 0 {
		return fmt.Errorf("BINSTRING pickle has negative byte count")
	}
	if err := d.bufLoadBytesData(uint64(n)); err != nil {
		return err
	}
	return d.pushLegacyString(d.buf.Bytes())
}

func (d *Decoder) loadShortBinString() error {
	if err := d.bufLoadBinData(1); err != nil {
		return err
	}
	return d.pushLegacyString(d.buf.Bytes())
}

func (d *Decoder) loadUnicode() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}

	text, err := pydecodeRawUnicodeEscape(string(line))
	if err != nil {
		return err
	}

	d.push(text)
	return nil
}

func (d *Decoder) loadBinUnicode() error {
	if err := d.bufLoadBinData(4); err != nil {
		return err
	}
	d.push(d.buf.String())
	return nil
}

func (d *Decoder) loadBinUnicode8() error {
	if err := d.bufLoadBinData(8); err != nil {
		return err
	}
	d.push(d.buf.String())
	return nil
}

func (d *Decoder) loadShortBinUnicode() error {
	if err := d.bufLoadBinData(1); err != nil {
		return err
	}
	d.push(d.buf.String())
	return nil
}

func (d *Decoder) loadBinBytes() error {
	if err := d.bufLoadBinData(4); err != nil {
		return err
	}
	d.push(Bytes(d.buf.Bytes()))
	return nil
}

func (d *Decoder) loadShortBinBytes() error {
	if err := d.bufLoadBinData(1); err != nil {
		return err
	}
	d.push(Bytes(d.buf.Bytes()))
	return nil
}

func (d *Decoder) loadBinBytes8() error {
	if err := d.bufLoadBinData(8); err != nil {
		return err
	}
	d.push(Bytes(d.buf.Bytes()))
	return nil
}

func (d *Decoder) loadBytearray8() error {
	if err := d.bufLoadBinData(8); err != nil {
		return err
	}
	data := d.buf.Bytes()
	if data == nil {
		data = []byte{}
	}
	d.push(data)
	// the result now owns the buffer memory
	d.buf = bytes.Buffer{}
	return nil
}

func (d *Decoder) loadNextBuffer() error {
	if d.config.Buffers == nil {
		return ErrNoBuffers
	}
	if d.nbuf >= len(d.config.Buffers) {
		return ErrBufExhausted
	}
	d.push(d.config.Buffers[d.nbuf])
	d.nbuf++
	return nil
}

func (d *Decoder) loadReadOnlyBuffer() error {
	top, err := d.stack.top()
	if err != nil {
		return err
	}
	switch b := top.(type) {
	case *PickleBuffer:
		if !b.ReadOnly {
			d.stack.setTop(&PickleBuffer{Data: b.Data, ReadOnly: true})
		}
	case []byte:
		d.stack.setTop(&PickleBuffer{Data: b, ReadOnly: true})
	case Bytes:
		// already immutable
	default:
		return fmt.Errorf("stack top is not a buffer: %T", top)
	}
	return nil
}

func (d *Decoder) loadEmptyTuple() error {
	d.push(Tuple{})
	return nil
}

func (d *Decoder) loadTuple() error {
	k, err := d.stack.popMark()
	if err != nil {
		return err
	}
	d.push(Tuple(d.stack.drainFrom(k)))
	return nil
}

// tupleN creates tuple from top n stack objects.
// it serves TUPLE{1,2,3} opcode handlers.
func (d *Decoder) tupleN(n int) error {
	items, err := d.stack.popN(n)
	if err != nil {
		return err
	}
	d.push(Tuple(items))
	return nil
}

func (d *Decoder) loadTuple1() error { return d.tupleN(1) }
func (d *Decoder) loadTuple2() error { return d.tupleN(2) }
func (d *Decoder) loadTuple3() error { return d.tupleN(3) }

func (d *Decoder) loadEmptyList() error {
	d.push(&List{})
	return nil
}

func (d *Decoder) loadList() error {
	k, err := d.stack.popMark()
	if err != nil {
		return err
	}
	d.push(NewList(d.stack.drainFrom(k)...))
	return nil
}

func (d *Decoder) loadAppend() error {
	return d.doAppend(d.stack.len() - 1)
}

func (d *Decoder) loadAppends() error {
	k, err := d.stack.popMark()
	if err != nil {
		return err
	}
	return d.doAppend(k)
}

// doAppend appends items [x:] to the list-like object at x-1.
func (d *Decoder) doAppend(x int) error {
	n := d.stack.len()
	if x > n || x <= d.stack.fence {
		return d.stack.underflow()
	}
	if x == n {
		return nil
	}
	items := d.stack.drainFrom(x)
	switch l := d.stack.at(x - 1).(type) {
	case *List:
		l.Append(items...)
	case Extender:
		return l.PickleExtend(items)
	case Appender:
		for _, item := range items {
			if err := l.PickleAppend(item); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("cannot append to %T", l)
	}
	return nil
}

func (d *Decoder) loadEmptyDict() error {
	d.push(NewDict())
	return nil
}

func (d *Decoder) loadDict() error {
	k, err := d.stack.popMark()
	if err != nil {
		return err
	}
	items := d.stack.drainFrom(k)
	if len(items)%2 != 0 {
		return fmt.Errorf("odd number of items for DICT")
	}
	m := NewDictWithSizeHint(len(items) / 2)
	err = tryTable(func() {
		for i := 0; i < len(items); i += 2 {
			m.Set(items[i], items[i+1])
		}
	})
	if err != nil {
		return err
	}
	d.push(m)
	return nil
}

func (d *Decoder) loadSetItem() error {
	return d.doSetItems(d.stack.len() - 2)
}

func (d *Decoder) loadSetItems() error {
	k, err := d.stack.popMark()
	if err != nil {
		return err
	}
	return d.doSetItems(k)
}

// doSetItems sets key/value pairs [x:] into the dict-like object at x-1.
func (d *Decoder) doSetItems(x int) error {
	n := d.stack.len()
	if x > n || x <= d.stack.fence {
		return d.stack.underflow()
	}
	if x == n {
		return nil
	}
	if (n-x)%2 != 0 {
		return fmt.Errorf("odd number of items for SETITEMS")
	}
	items := d.stack.drainFrom(x)
	switch m := d.stack.at(x - 1).(type) {
	case Dict:
		return tryTable(func() {
			for i := 0; i < len(items); i += 2 {
				m.Set(items[i], items[i+1])
			}
		})
	case ItemSetter:
		for i := 0; i < len(items); i += 2 {
			if err := m.PickleSetItem(items[i], items[i+1]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("cannot set items of %T", m)
	}
	return nil
}

func (d *Decoder) loadEmptySet() error {
	d.push(NewSet())
	return nil
}

func (d *Decoder) loadAddItems() error {
	k, err := d.stack.popMark()
	if err != nil {
		return err
	}
	n := d.stack.len()
	if k <= d.stack.fence {
		return d.stack.underflow()
	}
	if k == n {
		return nil
	}
	items := d.stack.drainFrom(k)
	switch s := d.stack.at(k - 1).(type) {
	case Set:
		return tryTable(func() {
			s.Add(items...)
		})
	case Adder:
		return s.PickleAdd(items)
	default:
		return fmt.Errorf("cannot add items to %T", s)
	}
}

func (d *Decoder) loadFrozenSet() error {
	k, err := d.stack.popMark()
	if err != nil {
		return err
	}
	items := d.stack.drainFrom(k)
	var s FrozenSet
	err = tryTable(func() {
		s = NewFrozenSet(items...)
	})
	if err != nil {
		return err
	}
	d.push(s)
	return nil
}

// memoGet pushes memo[idx] on the stack.
func (d *Decoder) memoGet(idx uint64) error {
	v, ok := d.memo.get(idx)
	if !ok {
		return fmt.Errorf("%w at index %d", ErrMemoKey, idx)
	}
	d.push(v)
	return nil
}

// memoPut puts top of the stack into memo[idx]; the stack is not changed.
func (d *Decoder) memoPut(idx uint64) error {
	v, err := d.stack.top()
	if err != nil {
		return err
	}
	d.memo.put(idx, v)
	return nil
}

func (d *Decoder) loadGet() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	idx, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return err
	}
	if idx < 0 {
		return fmt.Errorf("%w at index %d", ErrMemoKey, idx)
	}
	return d.memoGet(uint64(idx))
}

func (d *Decoder) loadBinGet() error {
	idx, err := d.readUint(1)
	if err != nil {
		return err
	}
	return d.memoGet(idx)
}

func (d *Decoder) loadLongBinGet() error {
	idx, err := d.readUint(4)
	if err != nil {
		return err
	}
	return d.memoGet(idx)
}

func (d *Decoder) loadPut() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	idx, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return err
	}
	if idx < 0 {
		return fmt.Errorf("negative PUT argument")
	}
	return d.memoPut(uint64(idx))
}

func (d *Decoder) loadBinPut() error {
	idx, err := d.readUint(1)
	if err != nil {
		return err
	}
	return d.memoPut(idx)
}

func (d *Decoder) loadLongBinPut() error {
	idx, err := d.readUint(4)
	if err != nil {
		return err
	}
	return d.memoPut(idx)
}

func (d *Decoder) loadMemoize() error {
	return d.memoPut(uint64(d.memo.len()))
}

// Push a persistent object id
func (d *Decoder) loadPersid() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	for _, c := range line {
		if c >= 0x80 {
			return fmt.Errorf("persistent IDs in protocol 0 must be ASCII strings")
		}
	}
	return d.handleRef(Ref{Pid: string(line)})
}

// Push a persistent object id from items on the stack
func (d *Decoder) loadBinPersid() error {
	pid, err := d.stack.pop()
	if err != nil {
		return err
	}
	return d.handleRef(Ref{Pid: pid})
}

func (d *Decoder) loadGlobal() error {
	module, err := d.readLine()
	if err != nil {
		return err
	}
	smodule := string(module)
	name, err := d.readLine()
	if err != nil {
		return err
	}
	v, err := d.findClass(smodule, string(name))
	if err != nil {
		return err
	}
	d.push(v)
	return nil
}

func (d *Decoder) loadStackGlobal() error {
	xname, err := d.stack.pop()
	if err != nil {
		return err
	}
	xmodule, err := d.stack.pop()
	if err != nil {
		return err
	}
	name, ok1 := xname.(string)
	module, ok2 := xmodule.(string)
	if !(ok1 && ok2) {
		return fmt.Errorf("STACK_GLOBAL requires str, got (%T, %T)", xmodule, xname)
	}
	v, err := d.findClass(module, name)
	if err != nil {
		return err
	}
	d.push(v)
	return nil
}

func (d *Decoder) loadExt1() error { return d.loadExt(1) }
func (d *Decoder) loadExt2() error { return d.loadExt(2) }
func (d *Decoder) loadExt4() error { return d.loadExt(4) }

// loadExt pushes global registered under n-byte extension code.
func (d *Decoder) loadExt(n int) error {
	v, err := d.readUint(n)
	if err != nil {
		return err
	}
	code := int32(v)
	if code <= 0 {
		return fmt.Errorf("%w: EXT specifies code <= 0", ErrBadExtension)
	}
	if obj, ok := d.extCache[code]; ok {
		d.push(obj)
		return nil
	}

	reg := d.config.Extensions
	if reg == nil {
		reg = DefaultExtensions
	}
	key, ok := reg.Key(code)
	if !ok {
		return fmt.Errorf("%w: unregistered extension code %d", ErrBadExtension, code)
	}
	obj, err := d.findClass(key.Module, key.Name)
	if err != nil {
		return err
	}
	if d.extCache == nil {
		d.extCache = make(map[int32]any)
	}
	d.extCache[code] = obj
	d.push(obj)
	return nil
}

func (d *Decoder) loadReduce() error {
	xargs, err := d.stack.pop()
	if err != nil {
		return err
	}
	callable, err := d.stack.pop()
	if err != nil {
		return err
	}
	args, ok := xargs.(Tuple)
	if !ok {
		return fmt.Errorf("reduce: invalid args: %T", xargs)
	}
	obj, err := d.call(callable, args)
	if err != nil {
		return err
	}
	d.push(obj)
	return nil
}

func (d *Decoder) loadBuild() error {
	state, err := d.stack.pop()
	if err != nil {
		return err
	}
	inst, err := d.stack.top()
	if err != nil {
		return err
	}
	return d.build(inst, state)
}

func (d *Decoder) loadInst() error {
	module, err := d.readLine()
	if err != nil {
		return err
	}
	smodule := string(module)
	name, err := d.readLine()
	if err != nil {
		return err
	}
	k, err := d.stack.popMark()
	if err != nil {
		return err
	}
	args := Tuple(d.stack.drainFrom(k))
	cls, err := d.findClass(smodule, string(name))
	if err != nil {
		return err
	}
	obj, err := d.instantiate(cls, args)
	if err != nil {
		return err
	}
	d.push(obj)
	return nil
}

func (d *Decoder) loadObj() error {
	k, err := d.stack.popMark()
	if err != nil {
		return err
	}
	if d.stack.len()-k < 1 {
		return d.stack.underflow()
	}
	args := Tuple(d.stack.drainFrom(k + 1))
	cls := d.stack.drainFrom(k)[0]
	obj, err := d.instantiate(cls, args)
	if err != nil {
		return err
	}
	d.push(obj)
	return nil
}

func (d *Decoder) loadNewObj() error {
	xargs, err := d.stack.pop()
	if err != nil {
		return err
	}
	cls, err := d.stack.pop()
	if err != nil {
		return err
	}
	args, ok := xargs.(Tuple)
	if !ok {
		return fmt.Errorf("NEWOBJ expected an arg tuple, got %T", xargs)
	}
	if !isClassLike(cls) {
		return fmt.Errorf("NEWOBJ class argument isn't a type object: %T", cls)
	}
	obj, err := d.newObject(cls, args, Dict{})
	if err != nil {
		return err
	}
	d.push(obj)
	return nil
}

func (d *Decoder) loadNewObjEx() error {
	xkwargs, err := d.stack.pop()
	if err != nil {
		return err
	}
	xargs, err := d.stack.pop()
	if err != nil {
		return err
	}
	cls, err := d.stack.pop()
	if err != nil {
		return err
	}
	args, ok := xargs.(Tuple)
	if !ok {
		return fmt.Errorf("NEWOBJ_EX args argument must be a tuple, not %T", xargs)
	}
	kwargs, ok := xkwargs.(Dict)
	if !ok {
		return fmt.Errorf("NEWOBJ_EX kwargs argument must be a dict, not %T", xkwargs)
	}
	if !isClassLike(cls) {
		return fmt.Errorf("NEWOBJ_EX class argument must be a type, not %T", cls)
	}
	obj, err := d.newObject(cls, args, kwargs)
	if err != nil {
		return err
	}
	d.push(obj)
	return nil
}

func (d *Decoder) loadProto() error {
	v, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	// The PROTO opcode documentation says protocol version must be in [2, 256).
	// However CPython also loads PROTO with version 0 and 1 without error.
	// So we allow all supported versions as PROTO argument.
	if v > HighestProtocol {
		return fmt.Errorf("%w: %d", ErrInvalidPickleVersion, v)
	}
	d.protocol = int(v)
	return nil
}

// loadFrame reads the whole next frame; subsequent opcodes are served from it.
// https://www.python.org/dev/peps/pep-3154/#framing
func (d *Decoder) loadFrame() error {
	n, err := d.readUint(8)
	if err != nil {
		return err
	}
	if err := d.r.loadFrame(n); err != nil {
		return err
	}
	if d.log.AllowLevel(commonlog.Debug) {
		d.log.Debugf("frame @%d: %d bytes", d.opPos, n)
	}
	return nil
}

// parseInt parses decimal text of INT and LONG opcodes.
//
// Values that fit are returned as int64, others as *big.Int.
func parseInt(s string) (any, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	if v, ok := parseBigInt(s); ok {
		return normInt(v), nil
	}
	return nil, fmt.Errorf("invalid literal for int() with base 10: %q", s)
}

func parseBigInt(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

// normInt returns v as int64 if it fits.
func normInt(v *big.Int) any {
	if v.IsInt64() {
		return v.Int64()
	}
	return v
}

// decodeLong decodes little-endian 2's complement integer, as LONG1 and
// LONG4 carry it.
func decodeLong(data []byte) *big.Int {
	n := len(data)
	be := make([]byte, n)
	for i, b := range data {
		be[n-1-i] = b
	}
	v := new(big.Int).SetBytes(be)
	if n > 0 && data[n-1] >= 0x80 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(8*n)))
	}
	return v
}

// decodeLatin1Bytes tries to decode bytes from arg assuming it is latin1-encoded unicode.
//
// Python uses such representation of bytes for protocols <= 2 - where there is
// no BYTES* opcodes.
func decodeLatin1Bytes(arg any) ([]byte, error) {
	// bytes as latin1-decoded unicode
	ulatin1, ok := arg.(string)
	if !ok {
		return nil, fmt.Errorf("latin1: arg must be string, not %T", arg)
	}

	data := make([]byte, 0, len(ulatin1))
	for _, r := range ulatin1 {
		if r >= 0x100 {
			return nil, fmt.Errorf("latin1: cannot encode %q", r)
		}

		data = append(data, byte(r))
	}

	return data, nil
}

// decodeMemo is the unpickler memo.
//
// Indices are normally small and dense, but a pickle may use arbitrary
// ones. Far-away indices go to the sparse map so that a single big index
// does not make us allocate a huge array.
type decodeMemo struct {
	dense  []memoCell
	sparse map[uint64]any
	n      int // number of set entries
}

type memoCell struct {
	v   any
	set bool
}

func (m *decodeMemo) len() int {
	return m.n
}

func (m *decodeMemo) get(i uint64) (any, bool) {
	if i < uint64(len(m.dense)) {
		c := m.dense[i]
		return c.v, c.set
	}
	v, ok := m.sparse[i]
	return v, ok
}

func (m *decodeMemo) put(i uint64, v any) {
	if i >= uint64(len(m.dense)) && i < uint64(2*len(m.dense)+256) {
		m.grow(int(i) + 1)
	}
	if i < uint64(len(m.dense)) {
		if !m.dense[i].set {
			m.n++
		}
		m.dense[i] = memoCell{v, true}
		return
	}
	if m.sparse == nil {
		m.sparse = make(map[uint64]any)
	}
	if _, ok := m.sparse[i]; !ok {
		m.n++
	}
	m.sparse[i] = v
}

// grow extends dense part to cover at least n entries.
func (m *decodeMemo) grow(n int) {
	size := max(n, 2*len(m.dense))
	m.dense = append(m.dense, make([]memoCell, size-len(m.dense))...)
	for i, v := range m.sparse {
		if i < uint64(size) {
			m.dense[i] = memoCell{v, true}
			delete(m.sparse, i)
		}
	}
}
