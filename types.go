package ogórek

import (
	"fmt"
)

// None is a representation of Python's None.
type None struct{}

// Tuple is a representation of Python's tuple.
type Tuple []any

// List is a representation of Python's list.
//
// Lists are decoded as *List so that several references to the same list,
// including references from the list to itself, share one Go object.
// On encoding []any and other Go slices are accepted as well.
type List []any

// NewList returns new list with given items.
func NewList(items ...any) *List {
	l := List(items)
	return &l
}

// Append appends items to the list.
func (l *List) Append(items ...any) {
	*l = append(*l, items...)
}

// Bytes represents Python's bytes.
type Bytes string

// ByteString represents str from Python2.
//
// It is produced when decoding STRING, BINSTRING and SHORT_BINSTRING opcodes
// with DecoderConfig.Encoding left empty, and is pickled back with the same
// opcodes.
type ByteString string

// GoString returns Go-syntax representation of ByteString.
func (s ByteString) GoString() string {
	return fmt.Sprintf("%T(%q)", s, string(s))
}

// GoString returns Go-syntax representation of Bytes.
func (b Bytes) GoString() string {
	return fmt.Sprintf("%T(%q)", b, string(b))
}

// Class represents a Python class, or any other global identified by module
// and qualified name.
type Class struct {
	Module, Name string
}

// Call represents Python's call.
//
// Call is pickled as callable(*args) via REDUCE. Decoding REDUCE produces
// *Object by default.
type Call struct {
	Callable any
	Args     Tuple
}

// Ref is the default representation for a Python persistent reference.
//
// Such references are used when one pickle somehow references another pickle
// in e.g. a database.
//
// See https://docs.python.org/3/library/pickle.html#pickle-persistent for details.
//
// See DecoderConfig.PersistentLoad and EncoderConfig.PersistentRef for ways to
// tune Decoder and Encoder to handle persistent references with user-specified
// application logic.
type Ref struct {
	// persistent ID of referenced object.
	//
	// used to be string for protocol 0, but "upgraded" to be arbitrary
	// object for later protocols.
	Pid any
}

// PickleBuffer represents Python's pickle.PickleBuffer (protocol 5).
//
// Depending on EncoderConfig.BufferCallback, buffer data is pickled either
// in-band, as bytes (read-only buffer) or bytearray, or out-of-band, in which
// case only NEXT_BUFFER opcode is emitted and the data must be provided to
// decoder via DecoderConfig.Buffers.
type PickleBuffer struct {
	Data     []byte
	ReadOnly bool
}

// Object is the default representation of an instance reconstructed by
// REDUCE, NEWOBJ or NEWOBJ_EX when DecoderConfig hooks do not handle it.
//
// An *Object pickles back to the same opcodes it was decoded from.
type Object struct {
	// Callable that created the object. For NEWOBJ* it is the class.
	Callable any
	Args     Tuple
	// Kwargs are keyword arguments of NEWOBJ_EX; zero Dict otherwise.
	Kwargs Dict
	// NewObj tells whether the object was created via cls.__new__.
	NewObj bool
	// State is the state applied by BUILD; nil if there was no BUILD.
	State any

	// ListItems and DictItems collect APPEND(S) and SETITEM(S) applied to
	// the object.
	ListItems []any
	DictItems Dict
}

// NewObjFunc and NewObjExFunc are the callables that reductions use to
// request instance creation via cls.__new__(cls, *args) and
// cls.__new__(cls, *args, **kwargs).
var (
	NewObjFunc   = Class{Module: "copyreg", Name: "__newobj__"}
	NewObjExFunc = Class{Module: "copyreg", Name: "__newobj_ex__"}

	reconstructorFunc = Class{Module: "copyreg", Name: "_reconstructor"}
	objectClass       = Class{Module: "builtins", Name: "object"}
)

// PickleReduceEx implements ReducerEx.
func (o *Object) PickleReduceEx(proto int) (any, error) {
	r := &Reduction{Callable: o.Callable, Args: o.Args, State: o.State}
	if r.Args == nil {
		r.Args = Tuple{}
	}
	if len(o.ListItems) > 0 {
		r.ListItems = sliceSeq(o.ListItems)
	}
	if o.DictItems.Len() > 0 {
		r.DictItems = o.DictItems.Iter()
	}
	if o.NewObj {
		switch {
		case o.Kwargs.Len() > 0:
			r.Callable = NewObjExFunc
			r.Args = Tuple{o.Callable, o.Args, o.Kwargs}
		case proto < 2 && len(o.Args) == 0:
			// protocols without NEWOBJ: copyreg._reconstructor(cls, object, None)
			r.Callable = reconstructorFunc
			r.Args = Tuple{o.Callable, objectClass, None{}}
		default:
			r.Callable = NewObjFunc
			r.Args = append(Tuple{o.Callable}, o.Args...)
		}
	}
	return r, nil
}

// PickleSetState implements StateSetter.
//
// Dict state is merged into Dict state applied earlier; any other state
// replaces it.
func (o *Object) PickleSetState(state any) error {
	if _, none := state.(None); none {
		return nil
	}
	if cur, ok := o.State.(Dict); ok {
		if upd, ok := state.(Dict); ok {
			upd.Iter()(func(k, v any) bool {
				cur.Set(k, v)
				return true
			})
			return nil
		}
	}
	o.State = state
	return nil
}

// PickleExtend implements Extender.
func (o *Object) PickleExtend(items []any) error {
	o.ListItems = append(o.ListItems, items...)
	return nil
}

// PickleSetItem implements ItemSetter.
func (o *Object) PickleSetItem(key, value any) error {
	if o.DictItems.t == nil {
		o.DictItems = NewDict()
	}
	return tryTable(func() {
		o.DictItems.Set(key, value)
	})
}

// PickleClass implements Classer.
func (o *Object) PickleClass() Class {
	c, _ := o.Callable.(Class)
	return c
}

// Partial represents functools.partial(func, *args, **keywords).
//
// Protocols 2 and 3 express cls.__new__(cls, *args, **kwargs) as a call of
// such partial object.
type Partial struct {
	Func     any
	Args     Tuple
	Keywords Dict
}

var partialClass = Class{Module: "functools", Name: "partial"}

// PickleReduce implements Reducer the way functools.partial.__reduce__ does.
func (p *Partial) PickleReduce() (any, error) {
	var kw any = None{}
	if p.Keywords.Len() > 0 {
		kw = p.Keywords
	}
	args := p.Args
	if args == nil {
		args = Tuple{}
	}
	return &Reduction{
		Callable: partialClass,
		Args:     Tuple{p.Func},
		State:    Tuple{p.Func, args, kw, None{}},
	}, nil
}

// PickleSetState implements StateSetter as functools.partial.__setstate__ does.
func (p *Partial) PickleSetState(state any) error {
	t, ok := state.(Tuple)
	if !ok || len(t) != 4 {
		return fmt.Errorf("partial: invalid state %T", state)
	}
	args, ok := t[1].(Tuple)
	if !ok {
		return fmt.Errorf("partial: invalid args %T", t[1])
	}
	p.Func = t[0]
	p.Args = args
	switch kw := t[2].(type) {
	case Dict:
		p.Keywords = kw
	case None:
		p.Keywords = Dict{}
	default:
		return fmt.Errorf("partial: invalid keywords %T", t[2])
	}
	return nil
}
