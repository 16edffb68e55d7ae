package ogórek

import (
	"fmt"
	"iter"
	"reflect"
	"strings"
	"sync"
)

// Reducer is implemented by types that know how to pickle themselves, as
// Python's __reduce__.
//
// PickleReduce should return *Reduction, a Tuple of 2 to 6 elements laid
// out as Python's reduce tuple, or a string. String means the object is a
// global with that name in the module of the object's PickleClass.
type Reducer interface {
	PickleReduce() (any, error)
}

// ReducerEx is like Reducer, but receives the protocol in use, as Python's
// __reduce_ex__. It takes precedence over Reducer.
type ReducerEx interface {
	PickleReduceEx(proto int) (any, error)
}

// Classer is implemented by objects that know their Python class.
//
// Encoder uses it to verify __newobj__ reductions and to resolve string
// reductions.
type Classer interface {
	PickleClass() Class
}

// ReduceFunc produces reduction of obj. See Reducer for the result.
//
// Returning nil result without error tells that the function does not handle obj.
type ReduceFunc func(obj any) (any, error)

// Reduction tells Encoder how to recreate an object: call Callable with Args,
// then append ListItems, set DictItems and apply State.
type Reduction struct {
	Callable any
	Args     Tuple

	// State, if not nil, is passed to BUILD, or to StateSetter(obj, state)
	// if StateSetter is set.
	State     any
	ListItems iter.Seq[any]
	DictItems iter.Seq2[any, any]

	StateSetter any
}

var (
	reducersMu sync.RWMutex
	reducers   = map[reflect.Type]ReduceFunc{}
)

// RegisterReducer registers fn to produce reductions for values of type typ,
// as Python's copyreg.pickle does. fn == nil removes the registration.
//
// Registered reducers are consulted after EncoderConfig.Dispatch and before
// EncoderConfig.ReducerOverride and the object's own methods.
func RegisterReducer(typ reflect.Type, fn ReduceFunc) {
	reducersMu.Lock()
	defer reducersMu.Unlock()
	if fn == nil {
		delete(reducers, typ)
	} else {
		reducers[typ] = fn
	}
}

func registeredReducer(typ reflect.Type) ReduceFunc {
	reducersMu.RLock()
	defer reducersMu.RUnlock()
	return reducers[typ]
}

// findReduction runs the reduction chain for obj.
//
// ok=false means nothing in the chain handles obj.
func (e *Encoder) findReduction(obj any) (rv any, ok bool, err error) {
	typ := reflect.TypeOf(obj)

	try := func(f ReduceFunc) bool {
		if f == nil {
			return false
		}
		rv, err = f(obj)
		return err != nil || rv != nil
	}

	switch {
	case try(e.config.Dispatch[typ]):
	case try(registeredReducer(typ)):
	case try(e.config.ReducerOverride):
	default:
		switch r := obj.(type) {
		case ReducerEx:
			rv, err = r.PickleReduceEx(e.proto)
		case Reducer:
			rv, err = r.PickleReduce()
		default:
			return nil, false, nil
		}
		if err == nil && rv == nil {
			err = fmt.Errorf("%T: reduce returned nil", obj)
		}
	}
	return rv, true, err
}

// toReduction validates reduce result and brings it to *Reduction.
func toReduction(obj, rv any) (*Reduction, error) {
	switch r := rv.(type) {
	case *Reduction:
		return r, nil
	case Reduction:
		return &r, nil
	case Tuple:
		return tupleReduction(r)
	}
	return nil, fmt.Errorf("%T: reduce must return string, tuple or *Reduction, not %T", obj, rv)
}

// tupleReduction converts Python-style reduce tuple to *Reduction.
func tupleReduction(t Tuple) (*Reduction, error) {
	if len(t) < 2 || len(t) > 6 {
		return nil, fmt.Errorf("tuple returned by reduce must contain 2 through 6 elements, not %d", len(t))
	}
	get := func(i int) any {
		if i >= len(t) {
			return nil
		}
		if _, none := t[i].(None); none {
			return nil
		}
		return t[i]
	}

	r := &Reduction{Callable: t[0], State: get(2), StateSetter: get(5)}
	args, ok := t[1].(Tuple)
	if !ok {
		return nil, fmt.Errorf("second element of the tuple returned by reduce must be a tuple, not %T", t[1])
	}
	r.Args = args

	switch x := get(3).(type) {
	case nil:
	case iter.Seq[any]:
		r.ListItems = x
	case func(func(any) bool):
		r.ListItems = x
	case *List:
		r.ListItems = sliceSeq(*x)
	case []any:
		r.ListItems = sliceSeq(x)
	default:
		return nil, fmt.Errorf("fourth element of the tuple returned by reduce must be an iterator, not %T", x)
	}

	switch x := get(4).(type) {
	case nil:
	case iter.Seq2[any, any]:
		r.DictItems = x
	case func(func(any, any) bool):
		r.DictItems = x
	case Dict:
		r.DictItems = x.Iter()
	default:
		return nil, fmt.Errorf("fifth element of the tuple returned by reduce must be an iterator, not %T", x)
	}
	return r, nil
}

func sliceSeq(items []any) iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, x := range items {
			if !yield(x) {
				return
			}
		}
	}
}

// isCallable tells whether x can stand for a callable in a pickle.
func isCallable(x any) bool {
	switch x.(type) {
	case Class, Call, *Partial, *Object:
		return true
	case Reducer, ReducerEx, Classer:
		return true
	}
	return false
}

// callableName returns the name of a global callable, or "".
func callableName(x any) string {
	if c, ok := x.(Class); ok {
		name := c.Name
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		return name
	}
	return ""
}

// StateSetter is implemented by objects that handle BUILD themselves, as
// Python's __setstate__.
type StateSetter interface {
	PickleSetState(state any) error
}

// AttrSetter is implemented by objects that accept attributes from BUILD
// slot state, or from dict state when the object has no DictHolder.
type AttrSetter interface {
	PickleSetAttr(name string, value any) error
}

// DictHolder is implemented by objects that expose their instance dictionary
// for BUILD to update, as Python's __dict__.
type DictHolder interface {
	PickleDict() Dict
}

// Appender is implemented by list-like objects that accept APPEND(S).
type Appender interface {
	PickleAppend(item any) error
}

// Extender is like Appender, but receives all items of APPENDS at once.
// It takes precedence over Appender.
type Extender interface {
	PickleExtend(items []any) error
}

// ItemSetter is implemented by dict-like objects that accept SETITEM(S).
type ItemSetter interface {
	PickleSetItem(key, value any) error
}

// Adder is implemented by set-like objects that accept ADDITEMS.
type Adder interface {
	PickleAdd(items []any) error
}
