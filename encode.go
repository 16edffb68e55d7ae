package ogórek

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/exp/slices"
)

const (
	// HighestProtocol is the highest pickle protocol supported.
	HighestProtocol = 5
	// DefaultProtocol is the protocol used by NewEncoder and Dumps.
	DefaultProtocol = 5
)

// batchSize is the maximum number of items written by one APPENDS, SETITEMS
// or ADDITEMS.
const batchSize = 1000

// defaultMaxDepth limits nesting of pickled objects when EncoderConfig.MaxDepth is 0.
const defaultMaxDepth = 1000

// An Encoder encodes Go data structures into pickle byte stream
//
// Encoder remembers objects it pickled: an object met again, in the same or
// in a later Encode call, is pickled as reference to the first occurrence.
// Use ClearMemo to forget them.
type Encoder struct {
	w      io.Writer
	config *EncoderConfig
	sink   *sink
	memo   *memoTable

	// Class is a value type; interned copies give it identity for the memo.
	classes map[Class]*Class

	proto int // protocol of the ongoing Encode
	depth int
}

// EncoderConfig allows to tune Encoder.
type EncoderConfig struct {
	// Protocol specifies which pickle protocol version should be used.
	//
	// Negative value selects HighestProtocol.
	Protocol int

	// PersistentRef, if !nil, will be used by encoder to encode objects as persistent references.
	//
	// Whenever the encoders sees pointer to a Go type object, it will call
	// PersistentRef to find out how to encode that object. If PersistentRef
	// returns nil, the object is encoded regularly. If !nil - the object
	// will be encoded as an object reference.
	//
	// See Ref documentation for more details.
	PersistentRef func(obj any) *Ref

	// FixImports enables translation of Python 3 module and global names to
	// their Python 2 equivalents for protocols < 3.
	FixImports bool

	// BufferCallback, if !nil, is called for every PickleBuffer. Returning
	// false makes the buffer data go out-of-band: only NEXT_BUFFER is
	// written and the data has to be given to the decoder separately.
	//
	// BufferCallback requires protocol 5.
	BufferCallback func(buf *PickleBuffer) (inBand bool)

	// Dispatch maps Go types to reduction functions, as Python's
	// Pickler.dispatch_table does. It has priority over RegisterReducer
	// registrations.
	Dispatch map[reflect.Type]ReduceFunc

	// ReducerOverride, if !nil, is consulted for every object that is not
	// handled by Dispatch or RegisterReducer. Returning nil result without
	// error continues with the object's own PickleReduceEx or PickleReduce.
	ReducerOverride ReduceFunc

	// Extensions is the registry used to emit EXT* opcodes.
	// DefaultExtensions is used if nil.
	Extensions *ExtensionRegistry

	// MaxDepth limits nesting of pickled objects. 0 means 1000.
	MaxDepth int
}

// NewEncoder returns a new Encoder with the default protocol.
func NewEncoder(w io.Writer) *Encoder {
	return NewEncoderWithConfig(w, &EncoderConfig{Protocol: DefaultProtocol})
}

// NewEncoderWithConfig is similar to NewEncoder, but allows specifying the encoder configuration.
//
// Note that the zero value of EncoderConfig selects protocol 0.
func NewEncoderWithConfig(w io.Writer, config *EncoderConfig) *Encoder {
	if config == nil {
		config = &EncoderConfig{Protocol: DefaultProtocol}
	}
	return &Encoder{
		w:       w,
		config:  config,
		sink:    newSink(w),
		memo:    newMemoTable(),
		classes: make(map[Class]*Class),
	}
}

// Dumps returns pickle of v.
//
// nil config selects DefaultProtocol.
func Dumps(v any, config *EncoderConfig) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoderWithConfig(&buf, config).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// protocol returns protocol to use with config verified.
func (e *Encoder) protocol() (int, error) {
	proto := e.config.Protocol
	if proto < 0 {
		proto = HighestProtocol
	}
	if proto > HighestProtocol {
		return 0, fmt.Errorf("%w, not %d", ErrInvalidProtocol, proto)
	}
	if e.config.BufferCallback != nil && proto < 5 {
		return 0, ErrBufferCallback
	}
	return proto, nil
}

// Encode writes the pickle encoding of v to w, the encoder's writer
func (e *Encoder) Encode(v any) error {
	proto, err := e.protocol()
	if err != nil {
		return err
	}
	e.proto = proto
	e.depth = 0

	if proto >= 2 {
		e.sink.write([]byte{opProto, byte(proto)})
	}
	if proto >= 4 {
		e.sink.startFraming()
	}
	err = e.save(v)
	if err == nil {
		e.sink.writeByte(opStop)
		err = e.sink.finish()
	}
	if err != nil {
		e.sink.reset()
		e.ClearMemo()
		return err
	}
	return nil
}

// ClearMemo makes the encoder forget objects pickled so far.
func (e *Encoder) ClearMemo() {
	e.memo.clear()
	clear(e.classes)
}

// fail wraps err with information about obj.
func (e *Encoder) fail(obj any, err error) error {
	return &EncodeError{Type: fmt.Sprintf("%T", obj), Pos: e.sink.pos(), Err: err}
}

func (e *Encoder) save(obj any) error {
	return e.saveWith(obj, true)
}

// saveWith saves obj; persistent=false skips PersistentRef, which is used
// for the persistent id itself.
func (e *Encoder) saveWith(obj any, persistent bool) error {
	e.depth++
	defer func() { e.depth-- }()
	maxDepth := e.config.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	if e.depth > maxDepth {
		return e.fail(obj, ErrRecursion)
	}

	if err := e.saveObj(obj, persistent); err != nil {
		return err
	}
	return e.sink.opcodeBoundary()
}

func (e *Encoder) saveObj(obj any, persistent bool) error {
	if persistent && e.config.PersistentRef != nil {
		if ref := e.config.PersistentRef(obj); ref != nil {
			return e.savePersid(ref.Pid)
		}
	}

	// atomic values
	switch v := obj.(type) {
	case nil, None:
		e.sink.writeByte(opNone)
		return nil
	case bool:
		e.saveBool(v)
		return nil
	case int:
		e.saveInt(int64(v))
		return nil
	case int8:
		e.saveInt(int64(v))
		return nil
	case int16:
		e.saveInt(int64(v))
		return nil
	case int32:
		e.saveInt(int64(v))
		return nil
	case int64:
		e.saveInt(v)
		return nil
	case uint8:
		e.saveInt(int64(v))
		return nil
	case uint16:
		e.saveInt(int64(v))
		return nil
	case uint32:
		e.saveInt(int64(v))
		return nil
	case uint:
		e.saveUint(uint64(v))
		return nil
	case uint64:
		e.saveUint(v)
		return nil
	case *big.Int:
		if v == nil {
			e.sink.writeByte(opNone)
			return nil
		}
		e.saveBigInt(v)
		return nil
	case float32:
		e.saveFloat(float64(v))
		return nil
	case float64:
		e.saveFloat(v)
		return nil
	case complex64:
		return e.saveComplex(complex128(v))
	case complex128:
		return e.saveComplex(v)
	case Ref:
		return e.savePersid(v.Pid)
	case Class:
		return e.saveGlobal(v)
	case Call:
		return e.saveCall(v)
	}

	if key, ok := identity(obj); ok {
		if id, ok := e.memo.get(key); ok {
			e.get(id)
			return nil
		}
	}

	switch v := obj.(type) {
	case string:
		return e.saveUnicode(v)
	case Bytes:
		return e.saveBytes(v, string(v))
	case ByteString:
		return e.saveByteString(v)
	case []byte:
		return e.saveBytearray(v, v)
	case *PickleBuffer:
		return e.savePickleBuffer(v)
	case Tuple:
		return e.saveTuple(v)
	case *List:
		return e.saveList(v, func() int { return len(*v) }, func(i int) any { return (*v)[i] })
	case []any:
		return e.saveList(v, func() int { return len(v) }, func(i int) any { return v[i] })
	case Dict:
		return e.saveDict(v, v.Len(), v.Len, v.Iter())
	case Set:
		return e.saveSet(v)
	case FrozenSet:
		return e.saveFrozenSet(v)
	}

	rv, ok, err := e.findReduction(obj)
	if err != nil {
		return e.fail(obj, err)
	}
	if ok {
		if name, isGlobal := rv.(string); isGlobal {
			c, ok := obj.(Classer)
			if !ok {
				return e.fail(obj, fmt.Errorf("%w: reduce returned global name %q, but %T does not tell its class", ErrBadReduce, name, obj))
			}
			return e.saveGlobal(Class{Module: c.PickleClass().Module, Name: name})
		}
		r, err := toReduction(obj, rv)
		if err != nil {
			return e.fail(obj, fmt.Errorf("%w: %w", ErrBadReduce, err))
		}
		return e.saveReduction(obj, r)
	}

	return e.saveReflect(obj)
}

// emit writes op followed by n-byte little-endian v.
func (e *Encoder) emit(op byte, v uint64, n int) {
	e.sink.write(header(op, v, n))
}

func header(op byte, v uint64, n int) []byte {
	var b [9]byte
	b[0] = op
	binary.LittleEndian.PutUint64(b[1:], v)
	return b[:1+n]
}

// emitLine writes op followed by newline-terminated text argument.
func (e *Encoder) emitLine(op byte, text string) {
	e.sink.writeByte(op)
	e.sink.writeString(text)
	e.sink.writeByte('\n')
}

// memoize remembers obj, if it has identity, and emits corresponding PUT.
func (e *Encoder) memoize(obj any) {
	if key, ok := identity(obj); ok {
		e.memoizeKey(key)
	}
}

func (e *Encoder) memoizeKey(key memoKey) {
	id := e.memo.len()
	e.memo.put(key, id)
	e.put(id)
}

// put emits store of the top of the stack into memo entry id.
func (e *Encoder) put(id int) {
	switch {
	case e.proto >= 4:
		e.sink.writeByte(opMemoize)
	case e.proto >= 1 && id < 256:
		e.emit(opBinput, uint64(id), 1)
	case e.proto >= 1:
		e.emit(opLongBinput, uint64(id), 4)
	default:
		e.emitLine(opPut, strconv.Itoa(id))
	}
}

// memoized returns memo id of obj, if obj was already pickled.
func (e *Encoder) memoized(obj any) (int, bool) {
	key, ok := identity(obj)
	if !ok {
		return 0, false
	}
	return e.memo.get(key)
}

// get emits fetch of memo entry id.
func (e *Encoder) get(id int) {
	switch {
	case e.proto >= 1 && id < 256:
		e.emit(opBinget, uint64(id), 1)
	case e.proto >= 1:
		e.emit(opLongBinget, uint64(id), 4)
	default:
		e.emitLine(opGet, strconv.Itoa(id))
	}
}

func (e *Encoder) saveBool(b bool) {
	switch {
	case e.proto >= 2 && b:
		e.sink.writeByte(opNewtrue)
	case e.proto >= 2:
		e.sink.writeByte(opNewfalse)
	case b:
		e.sink.writeString(opTrue)
	default:
		e.sink.writeString(opFalse)
	}
}

func (e *Encoder) saveInt(i int64) {
	if math.MinInt32 <= i && i <= math.MaxInt32 {
		switch {
		case e.proto == 0:
			e.emitLine(opInt, strconv.FormatInt(i, 10))
		case 0 <= i && i <= math.MaxUint8:
			e.emit(opBinint1, uint64(i), 1)
		case 0 <= i && i <= math.MaxUint16:
			e.emit(opBinint2, uint64(i), 2)
		default:
			e.emit(opBinint, uint64(uint32(int32(i))), 4)
		}
		return
	}
	e.saveLong(big.NewInt(i))
}

func (e *Encoder) saveUint(u uint64) {
	if u <= math.MaxInt64 {
		e.saveInt(int64(u))
		return
	}
	e.saveLong(new(big.Int).SetUint64(u))
}

func (e *Encoder) saveBigInt(v *big.Int) {
	if v.IsInt64() {
		e.saveInt(v.Int64())
		return
	}
	e.saveLong(v)
}

// saveLong saves integer outside of int32 range.
func (e *Encoder) saveLong(v *big.Int) {
	if e.proto >= 2 {
		data := encodeLong(v)
		if len(data) < 256 {
			e.emit(opLong1, uint64(len(data)), 1)
		} else {
			e.emit(opLong4, uint64(len(data)), 4)
		}
		e.sink.write(data)
		return
	}
	e.emitLine(opLong, v.String()+"L")
}

// encodeLong returns little-endian 2's complement representation of v with
// the least number of bytes.
func encodeLong(v *big.Int) []byte {
	if v.Sign() == 0 {
		return nil
	}
	n := v.BitLen()/8 + 1
	x := v
	if v.Sign() < 0 {
		x = new(big.Int).Lsh(big.NewInt(1), uint(8*n))
		x.Add(x, v)
	}
	data := x.FillBytes(make([]byte, n))
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		data[i], data[j] = data[j], data[i]
	}

	// -128 needs 1 byte, not 2: drop redundant sign byte
	if v.Sign() < 0 && n > 1 && data[n-1] == 0xff && data[n-2]&0x80 != 0 {
		data = data[:n-1]
	}
	return data
}

func (e *Encoder) saveFloat(f float64) {
	if e.proto >= 1 {
		var b [9]byte
		b[0] = opBinfloat
		binary.BigEndian.PutUint64(b[1:], math.Float64bits(f))
		e.sink.write(b[:])
		return
	}
	e.emitLine(opFloat, pyfloatRepr(f))
}

var (
	pyComplex   = Class{Module: "builtins", Name: "complex"}
	pyBytes     = Class{Module: "builtins", Name: "bytes"}
	pyBytearray = Class{Module: "builtins", Name: "bytearray"}
	pySet       = Class{Module: "builtins", Name: "set"}
	pyFrozenset = Class{Module: "builtins", Name: "frozenset"}
	pyGetattr   = Class{Module: "builtins", Name: "getattr"}
	pyEncode    = Class{Module: "_codecs", Name: "encode"}
)

func (e *Encoder) saveComplex(c complex128) error {
	return e.saveValueReduction(c, &Reduction{Callable: pyComplex, Args: Tuple{real(c), imag(c)}})
}

func (e *Encoder) savePersid(pid any) error {
	if e.proto == 0 {
		s, err := AsString(pid)
		if err != nil || !isASCII(s) || strings.ContainsRune(s, '\n') {
			return e.fail(pid, ErrPersistentID)
		}
		e.emitLine(opPersid, s)
		return nil
	}
	if err := e.saveWith(pid, false); err != nil {
		return err
	}
	e.sink.writeByte(opBinpersid)
	return nil
}

func (e *Encoder) saveCall(c Call) error {
	if err := e.save(c.Callable); err != nil {
		return err
	}
	args := c.Args
	if args == nil {
		args = Tuple{}
	}
	if err := e.save(args); err != nil {
		return err
	}
	e.sink.writeByte(opReduce)
	return nil
}

// stringBytes returns string data without copying. The result must not be modified.
func stringBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func (e *Encoder) saveUnicode(s string) error {
	var err error
	n := uint64(len(s))
	switch {
	case e.proto == 0:
		e.sink.writeByte(opUnicode)
		e.sink.write(pyencodeRawUnicodeEscape(s))
		e.sink.writeByte('\n')
	case e.proto >= 4 && n <= 0xff:
		e.emit(opShortBinUnicode, n, 1)
		e.sink.writeString(s)
	case n > 0xffffffff && e.proto >= 4:
		err = e.sink.writeLarge(header(opBinunicode8, n, 8), stringBytes(s))
	case n > 0xffffffff:
		return e.fail(s, fmt.Errorf("%w: cannot serialize a string larger than 4GiB", ErrTooLarge))
	default:
		err = e.sink.writeLarge(header(opBinunicode, n, 4), stringBytes(s))
	}
	if err != nil {
		return err
	}
	e.memoize(s)
	return nil
}

// saveBytes saves data as Python bytes with obj as its identity.
func (e *Encoder) saveBytes(obj any, data string) error {
	if e.proto < 3 {
		if len(data) == 0 {
			return e.saveValueReduction(obj, &Reduction{Callable: pyBytes, Args: Tuple{}})
		}
		// Python 2 has no bytes: pass data as latin1-decoded text
		latin1 := make([]rune, len(data))
		for i := 0; i < len(data); i++ {
			latin1[i] = rune(data[i])
		}
		return e.saveReduction(obj, &Reduction{Callable: pyEncode, Args: Tuple{string(latin1), "latin1"}})
	}

	if err := e.writeBytes(obj, stringBytes(data)); err != nil {
		return err
	}
	e.memoize(obj)
	return nil
}

// writeBytes emits one of BINBYTES* opcodes.
func (e *Encoder) writeBytes(obj any, data []byte) error {
	n := uint64(len(data))
	switch {
	case n <= 0xff:
		e.emit(opShortBinbytes, n, 1)
		e.sink.write(data)
		return nil
	case n > 0xffffffff && e.proto >= 4:
		return e.sink.writeLarge(header(opBinbytes8, n, 8), data)
	case n > 0xffffffff:
		return e.fail(obj, fmt.Errorf("%w: cannot serialize a bytes object larger than 4 GiB", ErrTooLarge))
	default:
		return e.sink.writeLarge(header(opBinbytes, n, 4), data)
	}
}

func (e *Encoder) saveByteString(s ByteString) error {
	n := uint64(len(s))
	switch {
	case e.proto == 0:
		e.emitLine(opString, pyquote(string(s)))
	case n <= 0xff:
		e.emit(opShortBinstring, n, 1)
		e.sink.writeString(string(s))
	case n > 0xffffffff:
		return e.fail(s, fmt.Errorf("%w: cannot serialize a string larger than 4GiB", ErrTooLarge))
	default:
		if err := e.sink.writeLarge(header(opBinstring, n, 4), stringBytes(string(s))); err != nil {
			return err
		}
	}
	e.memoize(s)
	return nil
}

// saveBytearray saves data as Python bytearray with obj as its identity.
func (e *Encoder) saveBytearray(obj any, data []byte) error {
	if e.proto < 5 {
		args := Tuple{}
		if len(data) > 0 {
			args = Tuple{Bytes(data)}
		}
		return e.saveValueReduction(obj, &Reduction{Callable: pyBytearray, Args: args})
	}
	if err := e.sink.writeLarge(header(opBytearray8, uint64(len(data)), 8), data); err != nil {
		return err
	}
	e.memoize(obj)
	return nil
}

func (e *Encoder) savePickleBuffer(pb *PickleBuffer) error {
	if e.proto < 5 {
		return e.fail(pb, fmt.Errorf("%w: PickleBuffer can only be pickled with protocol >= 5", ErrUnpicklable))
	}
	inBand := true
	if cb := e.config.BufferCallback; cb != nil {
		inBand = cb(pb)
	}
	if !inBand {
		e.sink.writeByte(opNextBuffer)
		if pb.ReadOnly {
			e.sink.writeByte(opReadOnlyBuffer)
		}
		return nil
	}

	var err error
	if pb.ReadOnly {
		err = e.writeBytes(pb, pb.Data)
	} else {
		err = e.sink.writeLarge(header(opBytearray8, uint64(len(pb.Data)), 8), pb.Data)
	}
	if err != nil {
		return err
	}
	e.memoize(pb)
	return nil
}

func (e *Encoder) saveTuple(t Tuple) error {
	n := len(t)
	if n == 0 {
		if e.proto >= 1 {
			e.sink.writeByte(opEmptyTuple)
		} else {
			e.sink.write([]byte{opMark, opTuple})
		}
		return nil
	}

	if n <= 3 && e.proto >= 2 {
		for _, item := range t {
			if err := e.save(item); err != nil {
				return err
			}
		}
		// the tuple was pickled recursively by its own items
		if id, ok := e.memoized(t); ok {
			for range n {
				e.sink.writeByte(opPop)
			}
			e.get(id)
			return nil
		}
		e.sink.writeByte([]byte{opTuple1, opTuple2, opTuple3}[n-1])
		e.memoize(t)
		return nil
	}

	e.sink.writeByte(opMark)
	for _, item := range t {
		if err := e.save(item); err != nil {
			return err
		}
	}
	if id, ok := e.memoized(t); ok {
		if e.proto >= 1 {
			e.sink.writeByte(opPopMark)
		} else {
			for range n + 1 {
				e.sink.writeByte(opPop)
			}
		}
		e.get(id)
		return nil
	}
	e.sink.writeByte(opTuple)
	e.memoize(t)
	return nil
}

func (e *Encoder) saveList(obj any, size func() int, at func(int) any) error {
	if e.proto >= 1 {
		e.sink.writeByte(opEmptyList)
	} else {
		e.sink.write([]byte{opMark, opList})
	}
	e.memoize(obj)
	return e.batchAppends(func(yield func(any) bool) {
		for i := 0; i < size(); i++ {
			if !yield(at(i)) {
				return
			}
		}
	}, size())
}

// batchAppends saves items appending them to the list on top of the stack.
//
// n is the number of items of a container, or -1 for items coming from an
// iterator. A container of one item gets a single APPEND and every other
// container is saved in MARK...APPENDS batches. An iterator uses APPEND for
// a lone item at its end.
func (e *Encoder) batchAppends(items iter.Seq[any], n int) error {
	next, stop := iter.Pull(items)
	defer stop()

	if e.proto == 0 {
		for x, ok := next(); ok; x, ok = next() {
			if err := e.save(x); err != nil {
				return err
			}
			e.sink.writeByte(opAppend)
		}
		return nil
	}

	for {
		first, ok := next()
		if !ok {
			return nil
		}
		x, ok := next()
		if !ok && n <= 1 {
			if err := e.save(first); err != nil {
				return err
			}
			e.sink.writeByte(opAppend)
			return nil
		}

		e.sink.writeByte(opMark)
		if err := e.save(first); err != nil {
			return err
		}
		k := 1
		for ok && k < batchSize {
			if err := e.save(x); err != nil {
				return err
			}
			k++
			if k < batchSize {
				x, ok = next()
			}
		}
		e.sink.writeByte(opAppends)
		if k < batchSize {
			return nil
		}
	}
}

// saveDict saves n items as dict. size, if !nil, reports current size of the
// dict and is used to detect its modification.
func (e *Encoder) saveDict(obj any, n int, size func() int, items iter.Seq2[any, any]) error {
	if e.proto >= 1 {
		e.sink.writeByte(opEmptyDict)
	} else {
		e.sink.write([]byte{opMark, opDict})
	}
	e.memoize(obj)
	return e.batchSetitems(obj, items, n, size)
}

// batchSetitems saves key/value pairs setting them into the dict on top of the stack.
//
// n is the number of items as for batchAppends. If size is !nil, it is
// checked after every batch to detect the dict was modified while being
// pickled.
func (e *Encoder) batchSetitems(obj any, items iter.Seq2[any, any], n int, size func() int) error {
	next, stop := iter.Pull2(items)
	defer stop()

	n0 := 0
	if size != nil {
		n0 = size()
	}
	checkSize := func() error {
		if size != nil && size() != n0 {
			return e.fail(obj, fmt.Errorf("dictionary %w", ErrChangedSize))
		}
		return nil
	}
	save2 := func(k, v any) error {
		if err := e.save(k); err != nil {
			return err
		}
		return e.save(v)
	}

	if e.proto == 0 {
		for k, v, ok := next(); ok; k, v, ok = next() {
			if err := save2(k, v); err != nil {
				return err
			}
			e.sink.writeByte(opSetitem)
			if err := checkSize(); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		k, v, ok := next()
		if !ok {
			return nil
		}
		k2, v2, ok := next()
		if !ok && n <= 1 {
			if err := save2(k, v); err != nil {
				return err
			}
			e.sink.writeByte(opSetitem)
			return checkSize()
		}

		e.sink.writeByte(opMark)
		if err := save2(k, v); err != nil {
			return err
		}
		j := 1
		for ok && j < batchSize {
			if err := save2(k2, v2); err != nil {
				return err
			}
			j++
			if j < batchSize {
				k2, v2, ok = next()
			}
		}
		e.sink.writeByte(opSetitems)
		if err := checkSize(); err != nil {
			return err
		}
		if j < batchSize {
			return nil
		}
	}
}

func (e *Encoder) saveSet(s Set) error {
	if e.proto < 4 {
		return e.saveReduction(s, &Reduction{Callable: pySet, Args: Tuple{NewList(s.Items()...)}})
	}

	e.sink.writeByte(opEmptySet)
	e.memoize(s)
	n0 := s.Len()
	if n0 == 0 {
		return nil
	}

	next, stop := iter.Pull(s.Iter())
	defer stop()
	for {
		x, ok := next()
		if !ok {
			return nil
		}
		e.sink.writeByte(opMark)
		n := 0
		for ok && n < batchSize {
			if err := e.save(x); err != nil {
				return err
			}
			n++
			if n < batchSize {
				x, ok = next()
			}
		}
		e.sink.writeByte(opAddItems)
		if s.Len() != n0 {
			return e.fail(s, fmt.Errorf("set %w", ErrChangedSize))
		}
		if n < batchSize {
			return nil
		}
	}
}

func (e *Encoder) saveFrozenSet(s FrozenSet) error {
	if e.proto < 4 {
		return e.saveReduction(s, &Reduction{Callable: pyFrozenset, Args: Tuple{NewList(s.Items()...)}})
	}

	e.sink.writeByte(opMark)
	for _, x := range s.Items() {
		if err := e.save(x); err != nil {
			return err
		}
	}
	// the frozenset was pickled recursively by its own items
	if id, ok := e.memoized(s); ok {
		e.sink.writeByte(opPopMark)
		e.get(id)
		return nil
	}
	e.sink.writeByte(opFrozenSet)
	e.memoize(s)
	return nil
}

// classKey returns memo key of global c.
func (e *Encoder) classKey(c Class) memoKey {
	p, ok := e.classes[c]
	if !ok {
		p = &Class{Module: c.Module, Name: c.Name}
		e.classes[c] = p
	}
	return memoKey{ptr: unsafe.Pointer(p), typ: reflect.TypeFor[Class]()}
}

func (e *Encoder) saveGlobal(c Class) error {
	key := e.classKey(c)
	if id, ok := e.memo.get(key); ok {
		e.get(id)
		return nil
	}

	module, name := c.Module, c.Name
	if e.proto >= 2 {
		reg := e.config.Extensions
		if reg == nil {
			reg = DefaultExtensions
		}
		if code, ok := reg.Code(module, name); ok {
			switch {
			case code <= 0xff:
				e.emit(opExt1, uint64(code), 1)
			case code <= 0xffff:
				e.emit(opExt2, uint64(code), 2)
			default:
				e.emit(opExt4, uint64(code), 4)
			}
			return nil
		}
	}

	switch i := strings.LastIndexByte(name, '.'); {
	case e.proto >= 4:
		if err := e.save(module); err != nil {
			return err
		}
		if err := e.save(name); err != nil {
			return err
		}
		e.sink.writeByte(opStackGlobal)

	case i >= 0:
		// qualified name: getattr(parent, last)
		parent := Class{Module: module, Name: name[:i]}
		err := e.saveReduction(nil, &Reduction{Callable: pyGetattr, Args: Tuple{parent, name[i+1:]}})
		if err != nil {
			return err
		}

	default:
		if e.proto < 3 && e.config.FixImports {
			module, name = compat().py3to2(module, name)
		}
		if strings.ContainsRune(module, '\n') || strings.ContainsRune(name, '\n') ||
			(e.proto < 3 && !isASCII(module+name)) {
			return e.fail(c, fmt.Errorf("%w '%s.%s' using pickle protocol %d", ErrGlobalName, module, name, e.proto))
		}
		e.sink.writeByte(opGlobal)
		e.sink.writeString(module)
		e.sink.writeByte('\n')
		e.sink.writeString(name)
		e.sink.writeByte('\n')
	}

	e.memoizeKey(key)
	return nil
}

// saveReduction saves obj as described by its reduction.
//
// obj may be nil for reductions of objects that have no identity.
func (e *Encoder) saveReduction(obj any, r *Reduction) error {
	if !isCallable(r.Callable) {
		return e.fail(obj, fmt.Errorf("%w: first item of the tuple returned by reduce must be callable, not %T", ErrBadReduce, r.Callable))
	}
	args := r.Args
	if args == nil {
		args = Tuple{}
	}

	switch name := callableName(r.Callable); {
	case e.proto >= 2 && name == "__newobj_ex__":
		if len(args) != 3 {
			return e.fail(obj, fmt.Errorf("%w: length of the NEWOBJ_EX argument tuple must be exactly 3, not %d", ErrBadReduce, len(args)))
		}
		cls := args[0]
		cargs, ok := args[1].(Tuple)
		if !ok {
			return e.fail(obj, fmt.Errorf("%w: second item from NEWOBJ_EX argument tuple must be a tuple, not %T", ErrBadReduce, args[1]))
		}
		kwargs, ok := args[2].(Dict)
		if !ok {
			return e.fail(obj, fmt.Errorf("%w: third item from NEWOBJ_EX argument tuple must be a dict, not %T", ErrBadReduce, args[2]))
		}
		if err := e.checkClass(obj, cls, "NEWOBJ_EX"); err != nil {
			return err
		}

		if e.proto >= 4 {
			for _, x := range []any{cls, cargs, kwargs} {
				if err := e.save(x); err != nil {
					return err
				}
			}
			e.sink.writeByte(opNewobjEx)
			break
		}

		// cls.__new__(cls, *args, **kwargs) via functools.partial
		p := &Partial{
			Func:     Call{Callable: pyGetattr, Args: Tuple{cls, "__new__"}},
			Args:     append(Tuple{cls}, cargs...),
			Keywords: kwargs,
		}
		if err := e.save(p); err != nil {
			return err
		}
		if err := e.save(Tuple{}); err != nil {
			return err
		}
		e.sink.writeByte(opReduce)

	case e.proto >= 2 && name == "__newobj__":
		if len(args) < 1 {
			return e.fail(obj, fmt.Errorf("%w: __newobj__ arglist is empty", ErrBadReduce))
		}
		cls := args[0]
		if err := e.checkClass(obj, cls, "NEWOBJ"); err != nil {
			return err
		}
		if err := e.save(cls); err != nil {
			return err
		}
		if err := e.save(args[1:]); err != nil {
			return err
		}
		e.sink.writeByte(opNewobj)

	default:
		if err := e.save(r.Callable); err != nil {
			return err
		}
		if err := e.save(args); err != nil {
			return err
		}
		e.sink.writeByte(opReduce)
	}

	hasID := false
	if obj != nil {
		var key memoKey
		key, hasID = identity(obj)
		if hasID {
			// the object was pickled recursively by its own reduction
			if id, ok := e.memo.get(key); ok {
				e.sink.writeByte(opPop)
				e.get(id)
				return nil
			}
			e.memoizeKey(key)
		}
	}

	if r.ListItems != nil {
		if err := e.batchAppends(r.ListItems, -1); err != nil {
			return err
		}
	}
	if r.DictItems != nil {
		if err := e.batchSetitems(obj, r.DictItems, -1, nil); err != nil {
			return err
		}
	}

	if r.State == nil {
		return nil
	}
	if r.StateSetter == nil {
		if err := e.save(r.State); err != nil {
			return err
		}
		e.sink.writeByte(opBuild)
		return nil
	}

	// state_setter(obj, state)
	if !hasID {
		return e.fail(obj, fmt.Errorf("%w: state setter needs object with identity", ErrBadReduce))
	}
	for _, x := range []any{r.StateSetter, obj, r.State} {
		if err := e.save(x); err != nil {
			return err
		}
	}
	e.sink.write([]byte{opTuple2, opReduce, opPop})
	return nil
}

// saveValueReduction saves reduction of a builtin value which may have no
// identity. Such value still takes a memo entry, as Python's pickler gives one
// to every reduced object, but the entry is never referenced.
func (e *Encoder) saveValueReduction(obj any, r *Reduction) error {
	if err := e.saveReduction(obj, r); err != nil {
		return err
	}
	if _, ok := identity(obj); !ok {
		e.put(e.memo.skip())
	}
	return nil
}

// checkClass verifies cls argument of NEWOBJ* reductions.
func (e *Encoder) checkClass(obj, cls any, opname string) error {
	if !isClassLike(cls) {
		return e.fail(obj, fmt.Errorf("%w: args[0] from %s args is not a type", ErrBadReduce, opname))
	}
	c, ok1 := cls.(Class)
	o, ok2 := obj.(Classer)
	if ok1 && ok2 {
		if oc := o.PickleClass(); oc != (Class{}) && oc != c {
			return e.fail(obj, fmt.Errorf("%w: args[0] from %s args has the wrong class", ErrBadReduce, opname))
		}
	}
	return nil
}

// saveReflect saves Go values that are not one of the pickle types.
//
// Structs become dicts of their exported fields, maps become dicts, and
// slices and arrays become lists.
func (e *Encoder) saveReflect(obj any) error {
	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			e.sink.writeByte(opNone)
			return nil
		}
		elem := rv.Elem()
		if elem.Kind() == reflect.Struct {
			return e.saveStruct(obj, elem)
		}
		return e.save(elem.Interface())

	case reflect.Struct:
		return e.saveStruct(nil, rv)

	case reflect.Map:
		return e.saveMap(obj, rv)

	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return e.saveBytearray(obj, rv.Bytes())
		}
		return e.saveList(obj, rv.Len, func(i int) any { return rv.Index(i).Interface() })

	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			data := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(data), rv)
			return e.saveBytes(nil, string(data))
		}
		return e.saveList(nil, rv.Len, func(i int) any { return rv.Index(i).Interface() })

	case reflect.String:
		return e.saveUnicode(rv.String())
	case reflect.Bool:
		e.saveBool(rv.Bool())
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.saveInt(rv.Int())
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.saveUint(rv.Uint())
		return nil
	case reflect.Float32, reflect.Float64:
		e.saveFloat(rv.Float())
		return nil
	case reflect.Complex64, reflect.Complex128:
		return e.saveComplex(rv.Complex())
	}

	return e.fail(obj, fmt.Errorf("%w: %T", ErrUnpicklable, obj))
}

func (e *Encoder) saveStruct(obj any, st reflect.Value) error {
	typ := st.Type()
	fields := structFields(typ)
	return e.saveDict(obj, len(fields), nil, func(yield func(any, any) bool) {
		for _, f := range fields {
			if !yield(f.name, st.Field(f.index).Interface()) {
				return
			}
		}
	})
}

type structField struct {
	name  string
	index int
}

// structFields returns fields of struct type to be pickled.
//
// If any field has `pickle:"name"` tag, only tagged fields are pickled,
// under their tag names. Otherwise all exported fields are pickled.
func structFields(typ reflect.Type) []structField {
	var tagged, exported []structField
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if tag := f.Tag.Get("pickle"); tag != "" {
			if tag != "-" && f.IsExported() {
				tagged = append(tagged, structField{tag, i})
			}
			continue
		}
		if f.IsExported() {
			exported = append(exported, structField{f.Name, i})
		}
	}
	if tagged != nil {
		return tagged
	}
	return exported
}

func (e *Encoder) saveMap(obj any, m reflect.Value) error {
	// Go map order is random; sort keys to make the output deterministic
	keys := m.MapKeys()
	slices.SortFunc(keys, compareKeys)
	return e.saveDict(obj, len(keys), m.Len, func(yield func(any, any) bool) {
		for _, k := range keys {
			v := m.MapIndex(k)
			if !v.IsValid() {
				continue
			}
			if !yield(k.Interface(), v.Interface()) {
				return
			}
		}
	})
}

// compareKeys orders map keys of the same map.
func compareKeys(a, b reflect.Value) int {
	if a.Kind() == reflect.Interface {
		a, b = a.Elem(), b.Elem()
	}
	if !a.IsValid() || !b.IsValid() {
		return cmp.Compare(bint(a.IsValid()), bint(b.IsValid()))
	}
	if a.Kind() != b.Kind() {
		return cmp.Compare(a.Kind(), b.Kind())
	}
	switch a.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmp.Compare(a.Int(), b.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return cmp.Compare(a.Uint(), b.Uint())
	case reflect.Float32, reflect.Float64:
		return cmp.Compare(a.Float(), b.Float())
	case reflect.String:
		return strings.Compare(a.String(), b.String())
	case reflect.Bool:
		return cmp.Compare(bint(a.Bool()), bint(b.Bool()))
	}
	return strings.Compare(fmt.Sprintf("%#v", a), fmt.Sprintf("%#v", b))
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
