package ogórek

import (
	"math/big"
	"reflect"
	"unsafe"
)

// memoKey identifies an object by its memory.
//
// Strings and slices are identified by their data pointer and length, so
// that sub-slices sharing storage are still different objects. The type
// distinguishes e.g. Bytes and string converted one from another without copy.
type memoKey struct {
	ptr unsafe.Pointer
	n   int
	typ reflect.Type
}

type memoEntry struct {
	key memoKey
	id  int
}

// memoTable maps object identity to memo id on the encoding side.
//
// It is open-addressing hash table whose size is always power of 2. Entries
// are never deleted one by one, only the whole table is cleared. Every key
// keeps its object alive, so an address cannot be reused by another object
// while the table remembers it.
type memoTable struct {
	entries []memoEntry
	used    int
	unnamed int // ids given to objects without identity
}

const memoMinSize = 8

func newMemoTable() *memoTable {
	return &memoTable{entries: make([]memoEntry, memoMinSize)}
}

// lookup returns the slot where key is, or the empty slot where key should be.
func (m *memoTable) lookup(key memoKey) *memoEntry {
	mask := uintptr(len(m.entries) - 1)
	// low bits of an address are zero due to alignment
	h := uintptr(key.ptr) >> 3

	i := h & mask
	e := &m.entries[i]
	if e.key.ptr == nil || e.key == key {
		return e
	}
	for perturb := h; ; perturb >>= 5 {
		i = (i << 2) + i + perturb + 1
		e = &m.entries[i&mask]
		if e.key.ptr == nil || e.key == key {
			return e
		}
	}
}

func (m *memoTable) get(key memoKey) (id int, ok bool) {
	e := m.lookup(key)
	if e.key.ptr == nil {
		return 0, false
	}
	return e.id, true
}

// put associates key with id. key must not be present in the table.
func (m *memoTable) put(key memoKey, id int) {
	e := m.lookup(key)
	if e.key.ptr == nil {
		m.used++
	}
	e.key = key
	e.id = id

	// keep the table at most 2/3 full
	if 3*m.used < 2*len(m.entries) {
		return
	}
	grow := 4
	if m.used > 50000 {
		grow = 2
	}
	m.resize(grow * m.used)
}

func (m *memoTable) resize(minSize int) {
	size := memoMinSize
	for size < minSize {
		size <<= 1
	}
	old := m.entries
	m.entries = make([]memoEntry, size)
	for _, e := range old {
		if e.key.ptr != nil {
			*m.lookup(e.key) = e
		}
	}
}

// len returns the number of ids given out.
func (m *memoTable) len() int {
	return m.used + m.unnamed
}

// skip gives out an id that no key maps to.
func (m *memoTable) skip() int {
	id := m.len()
	m.unnamed++
	return id
}

func (m *memoTable) clear() {
	m.entries = make([]memoEntry, memoMinSize)
	m.used = 0
	m.unnamed = 0
}

// identity returns memo key of x.
//
// ok=false means x has no identity: it is either atomic, or a value type,
// or it has no storage to point to (empty strings and slices).
func identity(x any) (key memoKey, ok bool) {
	switch v := x.(type) {
	case nil, None, bool, int64, float64, *big.Int, Class, Ref, Call:
		return key, false

	case string:
		key = memoKey{ptr: unsafe.Pointer(unsafe.StringData(v)), n: len(v)}
	case Bytes:
		key = memoKey{ptr: unsafe.Pointer(unsafe.StringData(string(v))), n: len(v)}
	case ByteString:
		key = memoKey{ptr: unsafe.Pointer(unsafe.StringData(string(v))), n: len(v)}
	case []byte:
		key = memoKey{ptr: unsafe.Pointer(unsafe.SliceData(v)), n: len(v)}
	case Tuple:
		key = memoKey{ptr: unsafe.Pointer(unsafe.SliceData(v)), n: len(v)}
	case []any:
		key = memoKey{ptr: unsafe.Pointer(unsafe.SliceData(v)), n: len(v)}

	case *List:
		key = memoKey{ptr: unsafe.Pointer(v)}
	case *Object:
		key = memoKey{ptr: unsafe.Pointer(v)}
	case *PickleBuffer:
		key = memoKey{ptr: unsafe.Pointer(v)}
	case Dict:
		key = memoKey{ptr: unsafe.Pointer(v.t)}
	case Set:
		key = memoKey{ptr: unsafe.Pointer(v.t)}
	case FrozenSet:
		key = memoKey{ptr: unsafe.Pointer(v.t)}

	default:
		rv := reflect.ValueOf(x)
		switch rv.Kind() {
		case reflect.Pointer:
			// pointers to zero-sized values all point to the same address
			if rv.Type().Elem().Size() == 0 {
				return key, false
			}
			key = memoKey{ptr: rv.UnsafePointer()}
		case reflect.Map:
			key = memoKey{ptr: rv.UnsafePointer()}
		case reflect.Slice:
			if rv.Type().Elem().Size() == 0 {
				return key, false
			}
			key = memoKey{ptr: rv.UnsafePointer(), n: rv.Len()}
		case reflect.String:
			s := rv.String()
			key = memoKey{ptr: unsafe.Pointer(unsafe.StringData(s)), n: len(s)}
		default:
			return key, false
		}
	}

	// all empty strings and slices share the same storage, if any
	if key.ptr == nil || (key.n == 0 && isSequence(x)) {
		return memoKey{}, false
	}
	key.typ = reflect.TypeOf(x)
	return key, true
}

// isSequence tells whether identity of x is formed from data pointer + length.
func isSequence(x any) bool {
	switch x.(type) {
	case string, Bytes, ByteString, []byte, Tuple, []any:
		return true
	}
	switch reflect.TypeOf(x).Kind() {
	case reflect.Slice, reflect.String:
		return true
	}
	return false
}
