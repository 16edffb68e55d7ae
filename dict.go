package ogórek

// Python-like containers that handle keys by Python-like equality on access.
//
// For example Dict.Get() will access the same element for all keys int(1),
// float64(1.0) and big.Int(1).

import (
	"encoding/binary"
	"fmt"
	"hash/maphash"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/aristanetworks/gomap"
)

// table is insertion-ordered hash table keyed by Python equality.
//
// gomap indexes entries by position; deleted entries stay in place as holes
// until more than half of entries are holes, after which entries are compacted.
type table struct {
	index   *gomap.Map[any, int]
	entries []entry
	holes   int
}

type entry struct {
	key, value any
	dead       bool
}

func newTable(size int) *table {
	return &table{
		index:   gomap.NewHint[any, int](size, equal, hash),
		entries: make([]entry, 0, size),
	}
}

func (t *table) len() int {
	if t == nil {
		return 0
	}
	return len(t.entries) - t.holes
}

func (t *table) get(key any) (value any, ok bool) {
	if t == nil {
		// still verify key is hashable, as Python does for {}[[]]
		hash(maphash.MakeSeed(), key)
		return nil, false
	}
	i, ok := t.index.Get(key)
	if !ok {
		return nil, false
	}
	return t.entries[i].value, true
}

// takeAll removes from the index all keys equal to key and returns their positions.
//
// There can be several of them only with ByteString, which is equal to both
// string and Bytes with the same content.
func (t *table) takeAll(key any) []int {
	var posv []int
	for {
		i, ok := t.index.Get(key)
		if !ok {
			break
		}
		t.index.Delete(t.entries[i].key)
		posv = append(posv, i)
	}
	return posv
}

func (t *table) set(key, value any) {
	if t == nil {
		panic("Set called on nil map")
	}
	posv := t.takeAll(key)
	switch len(posv) {
	case 0:
		t.index.Set(key, len(t.entries))
		t.entries = append(t.entries, entry{key: key, value: value})
		return

	case 1:
		// like Python: keep the original key and position, replace the value
		i := posv[0]
		t.entries[i].value = value
		t.index.Set(t.entries[i].key, i)
		return
	}

	// several equal keys: the first position wins with the new key
	first := posv[0]
	for _, i := range posv[1:] {
		if i < first {
			first = i
		}
	}
	for _, i := range posv {
		if i != first {
			t.kill(i)
		}
	}
	t.entries[first].key = key
	t.entries[first].value = value
	t.index.Set(key, first)
}

func (t *table) del(key any) {
	if t == nil {
		hash(maphash.MakeSeed(), key)
		return
	}
	for _, i := range t.takeAll(key) {
		t.kill(i)
	}
	if t.holes > 8 && t.holes > len(t.entries)/2 {
		t.compact()
	}
}

func (t *table) kill(i int) {
	t.entries[i] = entry{dead: true}
	t.holes++
}

func (t *table) compact() {
	live := make([]entry, 0, t.len())
	for _, e := range t.entries {
		if !e.dead {
			live = append(live, e)
		}
	}
	for i, e := range live {
		t.index.Set(e.key, i)
	}
	t.entries = live
	t.holes = 0
}

// iter visits entries in insertion order.
//
// Entries added during iteration are not visited.
func (t *table) iter(yield func(k, v any) bool) {
	if t == nil {
		return
	}
	entries := t.entries
	for i := range entries {
		e := entries[i]
		if e.dead {
			continue
		}
		if !yield(e.key, e.value) {
			return
		}
	}
}

// Dict represents dict from Python.
//
// It mirrors Python with respect to which types are allowed to be used as
// keys, with respect to keys equality and with respect to iteration order,
// which is the order of insertion. For example Tuple is allowed to be used
// as key, and all int(1), float64(1.0) and big.Int(1) are considered to be
// equal.
//
// For strings, similarly to Python3, [Bytes] and string are considered to be not
// equal, even if their underlying content is the same. However with same
// underlying content [ByteString], because it represents str type from Python2,
// is treated equal to both [Bytes] and string.
//
// Note: similarly to builtin map Dict is pointer-like type: its zero-value
// represents nil dictionary that is empty and invalid to use Set on.
type Dict struct {
	t *table
}

// NewDict returns new empty dictionary.
func NewDict() Dict {
	return NewDictWithSizeHint(0)
}

// NewDictWithSizeHint returns new empty dictionary with preallocated space for size items.
func NewDictWithSizeHint(size int) Dict {
	return Dict{t: newTable(size)}
}

// NewDictWithData returns new dictionary with preset data.
//
// kv should be key₁, value₁, key₂, value₂, ...
func NewDictWithData(kv ...any) Dict {
	l := len(kv)
	if l%2 != 0 {
		panic("odd number of arguments")
	}
	l /= 2
	d := NewDictWithSizeHint(l)
	for i := 0; i < l; i++ {
		d.Set(kv[2*i], kv[2*i+1])
	}
	return d
}

// Get returns value associated with equal key.
//
// nil is returned if no matching key is present in the dictionary.
//
// Get panics if key's type is not allowed to be used as Dict key.
func (d Dict) Get(key any) any {
	value, _ := d.Get_(key)
	return value
}

// Get_ is comma-ok version of Get.
func (d Dict) Get_(key any) (value any, ok bool) {
	return d.t.get(key)
}

// Set sets key to be associated with value.
//
// If an equal key is already present, its value is replaced and its position
// in iteration order is preserved.
//
// Set panics if key's type is not allowed to be used as Dict key.
func (d Dict) Set(key, value any) {
	d.t.set(key, value)
}

// Del removes equal keys from the dictionary.
//
// Del panics if key's type is not allowed to be used as Dict key.
func (d Dict) Del(key any) {
	d.t.del(key)
}

// Len returns the number of items in the dictionary.
func (d Dict) Len() int {
	return d.t.len()
}

// Iter returns iterator over all elements in the dictionary in insertion order.
func (d Dict) Iter() /* iter.Seq2 */ func(yield func(any, any) bool) {
	return d.t.iter
}

// String returns human-readable representation of the dictionary.
func (d Dict) String() string {
	return d.sprintf("%v")
}

// GoString returns detailed human-readable representation of the dictionary.
func (d Dict) GoString() string {
	return fmt.Sprintf("%T%s", d, d.sprintf("%#v"))
}

func (d Dict) sprintf(format string) string {
	var b strings.Builder
	b.WriteString("{")
	i := 0
	d.t.iter(func(k, v any) bool {
		if i > 0 {
			b.WriteString(", ")
		}
		i++
		fmt.Fprintf(&b, format+": "+format, k, v)
		return true
	})
	b.WriteString("}")
	return b.String()
}

// Set represents set from Python.
//
// Like Dict, Set uses Python equality for its elements, iterates in insertion
// order, and is pointer-like: its zero value is nil set that cannot be added to.
type Set struct {
	t *table
}

// NewSet returns new set with given items.
//
// NewSet panics if an item is not allowed to be used as a set element.
func NewSet(items ...any) Set {
	s := Set{t: newTable(len(items))}
	s.Add(items...)
	return s
}

// Add adds items to the set.
func (s Set) Add(items ...any) {
	for _, x := range items {
		if _, ok := s.t.get(x); !ok {
			s.t.set(x, nil)
		}
	}
}

// Has returns whether the set contains an element equal to x.
func (s Set) Has(x any) bool {
	_, ok := s.t.get(x)
	return ok
}

// Discard removes element equal to x from the set, if present.
func (s Set) Discard(x any) {
	s.t.del(x)
}

// Len returns the number of elements in the set.
func (s Set) Len() int {
	return s.t.len()
}

// Iter returns iterator over set elements in insertion order.
func (s Set) Iter() /* iter.Seq */ func(yield func(any) bool) {
	return func(yield func(any) bool) {
		s.t.iter(func(k, _ any) bool { return yield(k) })
	}
}

// Items returns set elements in insertion order.
func (s Set) Items() []any {
	return tableKeys(s.t)
}

func (s Set) String() string {
	return sprintSet("set", s.t)
}

// FrozenSet represents frozenset from Python.
//
// Contrary to Set, FrozenSet is immutable and hashable: it can be used as Dict
// key or as element of another set.
type FrozenSet struct {
	t *table
}

// NewFrozenSet returns new frozenset with given items.
func NewFrozenSet(items ...any) FrozenSet {
	return FrozenSet{t: NewSet(items...).t}
}

// Has returns whether the frozenset contains an element equal to x.
func (s FrozenSet) Has(x any) bool {
	_, ok := s.t.get(x)
	return ok
}

// Len returns the number of elements in the frozenset.
func (s FrozenSet) Len() int {
	return s.t.len()
}

// Iter returns iterator over frozenset elements.
func (s FrozenSet) Iter() /* iter.Seq */ func(yield func(any) bool) {
	return Set(s).Iter()
}

// Items returns frozenset elements.
func (s FrozenSet) Items() []any {
	return tableKeys(s.t)
}

func (s FrozenSet) String() string {
	return sprintSet("frozenset", s.t)
}

func tableKeys(t *table) []any {
	keys := make([]any, 0, t.len())
	t.iter(func(k, _ any) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

func sprintSet(name string, t *table) string {
	var b strings.Builder
	b.WriteString(name + "({")
	i := 0
	t.iter(func(k, _ any) bool {
		if i > 0 {
			b.WriteString(", ")
		}
		i++
		fmt.Fprintf(&b, "%v", k)
		return true
	})
	b.WriteString("})")
	return b.String()
}

// tryTable runs f and converts "unhashable type" panic into error.
//
// Go code cannot know in advance whether a decoded value is allowed to be
// used as a key: the check happens in hash, which panics.
func tryTable(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if s, ok := r.(string); ok && strings.HasPrefix(s, "unhashable type") {
				err = fmt.Errorf("%s", s)
				return
			}
			panic(r)
		}
	}()
	f()
	return nil
}

// ---- equal ----

// kind represents to which category a type belongs.
//
// It primarily classifies bool, numbers, slices, structs and maps, and puts
// everything else into "other" category.
type kind uint

const (
	kBool    = iota
	kInt     // int + intX
	kUint    // uint + uintX
	kFloat   // floatX
	kComplex // complexX
	kBigInt  // *big.Int

	kSlice   // slice + array
	kMap     // map
	kStruct  // struct
	kPointer // pointer
	kOther   // everything else
)

// kindOf returns kind of x.
func kindOf(x any) kind {
	r := reflect.ValueOf(x)

	switch r.Kind() {
	case reflect.Bool:
		return kBool
	case reflect.Int, reflect.Int64, reflect.Int32, reflect.Int16, reflect.Int8:
		return kInt
	case reflect.Uint, reflect.Uint64, reflect.Uint32, reflect.Uint16, reflect.Uint8:
		return kUint
	case reflect.Float64, reflect.Float32:
		return kFloat
	case reflect.Complex128, reflect.Complex64:
		return kComplex

	case reflect.Slice, reflect.Array:
		return kSlice
	case reflect.Map:
		return kMap
	case reflect.Struct:
		return kStruct
	}

	switch x.(type) {
	case *big.Int:
		return kBigInt
	}

	switch r.Kind() {
	case reflect.Pointer:
		return kPointer
	}

	return kOther
}

// equal implements equality matching what Python would return for a == b.
//
// Equality properties:
//
// 1) equality is extension of Go ==
//
//	(a == b) ⇒ equal(a,b)
//
// 2) self equal:
//
//	equal(a,a) = y
//
// 3) equality is symmetrical:
//
//	equal(a,b) = equal(b,a)
//
// 4) equality is mostly transitive:
//
//	EqTransitive = set of all x:
//	  ∀ a,b,c ∈ EqTransitive:
//	    equal(a,b) ^ equal(b,c) ⇒ equal(a,c)
//
//	EqTransitive = all \ {ByteString + containers with ByteString}
func equal(xa, xb any) bool {
	if xa == nil || xb == nil {
		return xa == nil && xb == nil
	}

	// strings/bytes
	switch a := xa.(type) {
	case string:
		switch b := xb.(type) {
		case string:
			return a == b
		case ByteString:
			return a == string(b)
		default:
			return false
		}

	case ByteString:
		switch b := xb.(type) {
		case string:
			return a == ByteString(b)
		case ByteString:
			return a == b
		case Bytes:
			return a == ByteString(b)
		default:
			return false
		}

	case Bytes:
		switch b := xb.(type) {
		case ByteString:
			return a == Bytes(b)
		case Bytes:
			return a == b
		default:
			return false
		}
	}

	// our containers
	switch a := xa.(type) {
	case *List:
		b, ok := xb.(*List)
		if !ok {
			return false
		}
		if a == b {
			return true
		}
		if a == nil || b == nil {
			return false
		}
		return eq_Slice_Slice(reflect.ValueOf(*a), reflect.ValueOf(*b))

	case Dict:
		switch b := xb.(type) {
		case Dict:
			return eq_Dict_Dict(a, b)
		}
		if reflect.ValueOf(xb).Kind() == reflect.Map {
			return eq_Map_Dict(reflect.ValueOf(xb), a)
		}
		return false

	case Set:
		switch b := xb.(type) {
		case Set:
			return eq_Set_Set(a.t, b.t)
		case FrozenSet:
			return eq_Set_Set(a.t, b.t)
		}
		return false

	case FrozenSet:
		switch b := xb.(type) {
		case Set:
			return eq_Set_Set(a.t, b.t)
		case FrozenSet:
			return eq_Set_Set(a.t, b.t)
		}
		return false
	}
	switch xb.(type) {
	case *List, Dict, Set, FrozenSet:
		return equal(xb, xa)
	}

	// everything else
	a := reflect.ValueOf(xa)
	b := reflect.ValueOf(xb)

	ak := kindOf(xa)
	bk := kindOf(xb)

	// since equality is symmetric, we can implement only half of comparison matrix
	if ak > bk {
		a, b = b, a
		ak, bk = bk, ak
		xa, xb = xb, xa
	}
	// ak ≤ bk

	handled := true
	switch ak {
	default:
		handled = false

	// numbers
	case kBool:
		// bool compares to numbers as 1 or 0: 1.0 == True, {1: 'abc'}[True] = 'abc'
		abint := bint(a.Bool())
		switch bk {
		case kBool:
			return eq_Int_Int(abint, bint(b.Bool()))
		case kInt:
			return eq_Int_Int(abint, b.Int())
		case kUint:
			return eq_Int_Uint(abint, b.Uint())
		case kFloat:
			return eq_Int_Float(abint, b.Float())
		case kComplex:
			return eq_Int_Complex(abint, b.Complex())
		case kBigInt:
			return eq_Int_BigInt(abint, xb.(*big.Int))
		}

	case kInt:
		aint := a.Int()
		switch bk {
		case kInt:
			return eq_Int_Int(aint, b.Int())
		case kUint:
			return eq_Int_Uint(aint, b.Uint())
		case kFloat:
			return eq_Int_Float(aint, b.Float())
		case kComplex:
			return eq_Int_Complex(aint, b.Complex())
		case kBigInt:
			return eq_Int_BigInt(aint, xb.(*big.Int))
		}

	case kUint:
		auint := a.Uint()
		switch bk {
		case kUint:
			return auint == b.Uint()
		case kFloat:
			return float64(auint) == b.Float()
		case kComplex:
			return complex(float64(auint), 0) == b.Complex()
		case kBigInt:
			return eq_Uint_BigInt(auint, xb.(*big.Int))
		}

	case kFloat:
		afloat := a.Float()
		switch bk {
		case kFloat:
			return afloat == b.Float()
		case kComplex:
			return complex(afloat, 0) == b.Complex()
		case kBigInt:
			return eq_Float_BigInt(afloat, xb.(*big.Int))
		}

	case kComplex:
		acomplex := a.Complex()
		switch bk {
		case kComplex:
			return acomplex == b.Complex()
		case kBigInt:
			if imag(acomplex) != 0 {
				return false
			}
			return eq_Float_BigInt(real(acomplex), xb.(*big.Int))
		}

	case kBigInt:
		switch bk {
		case kBigInt:
			return xa.(*big.Int).Cmp(xb.(*big.Int)) == 0
		}

	case kSlice:
		switch bk {
		case kSlice:
			return eq_Slice_Slice(a, b)
		}

	case kMap:
		switch bk {
		case kMap:
			return eq_Map_Map(a, b)
		}
	}

	if handled {
		return false
	}

	// structs  (also covers None, Class, Call etc...)
	if ak == kStruct && bk == kStruct {
		return eq_Struct_Struct(a, b)
	}

	// fallback to builtin equality; guard against uncomparable dynamic types
	if !a.Type().Comparable() || !b.Type().Comparable() {
		return false
	}
	return xa == xb
}

// equality matrix. nontrivial elements

func eq_Int_Int(a int64, b int64) bool         { return a == b }
func eq_Int_Float(a int64, b float64) bool     { return float64(a) == b }
func eq_Int_Complex(a int64, b complex128) bool { return complex(float64(a), 0) == b }

func eq_Int_Uint(a int64, b uint64) bool {
	if a >= 0 {
		return uint64(a) == b
	}
	return false
}

func eq_Int_BigInt(a int64, b *big.Int) bool {
	if b.IsInt64() {
		return a == b.Int64()
	}
	return false
}

func eq_Uint_BigInt(a uint64, b *big.Int) bool {
	if b.IsUint64() {
		return a == b.Uint64()
	}
	return false
}

func eq_Float_BigInt(a float64, b *big.Int) bool {
	bf, accuracy := new(big.Float).SetInt(b).Float64()
	if accuracy == big.Exact {
		return a == bf
	}
	return false
}

func eq_Slice_Slice(a, b reflect.Value) bool {
	al := a.Len()
	bl := b.Len()
	if al != bl {
		return false
	}
	for i := 0; i < al; i++ {
		if !equal(a.Index(i).Interface(), b.Index(i).Interface()) {
			return false
		}
	}
	return true
}

func eq_Struct_Struct(a, b reflect.Value) bool {
	if a.Type() != b.Type() {
		return false
	}

	typ := a.Type()
	l := typ.NumField()
	for i := 0; i < l; i++ {
		af := a.Field(i)
		bf := b.Field(i)

		// .Interface() is not allowed if the field is private.
		// Work around the protection via unsafe on addressable copies.
		ftyp := typ.Field(i)
		if !ftyp.IsExported() {
			if !af.CanAddr() {
				a_ := reflect.New(typ).Elem()
				a_.Set(a)
				a = a_
				af = a.Field(i)
			}
			if !bf.CanAddr() {
				b_ := reflect.New(typ).Elem()
				b_.Set(b)
				b = b_
				bf = b.Field(i)
			}
			af = reflect.NewAt(ftyp.Type, af.Addr().UnsafePointer()).Elem()
			bf = reflect.NewAt(ftyp.Type, bf.Addr().UnsafePointer()).Elem()
		}

		if !equal(af.Interface(), bf.Interface()) {
			return false
		}
	}
	return true
}

// eq_Dict_Dict considers dicts D₁ and D₂ equal if
//
//	len(D₁) = len(D₂)  ^  ∀ k ∈ D₁  equal(D₁[k], D₂[k])  ^  ∀ k ∈ D₂  equal(D₁[k], D₂[k])
func eq_Dict_Dict(a Dict, b Dict) bool {
	if a.t == b.t {
		return true
	}
	if a.Len() != b.Len() {
		return false
	}
	return dictSubset(a, b) && dictSubset(b, a)
}

func dictSubset(a, b Dict) bool {
	eq := true
	a.t.iter(func(k, va any) bool {
		vb, ok := b.Get_(k)
		if !ok || !equal(va, vb) {
			eq = false
		}
		return eq
	})
	return eq
}

func eq_Set_Set(a, b *table) bool {
	if a == b {
		return true
	}
	if a.len() != b.len() {
		return false
	}
	eq := true
	a.iter(func(k, _ any) bool {
		_, eq = b.get(k)
		return eq
	})
	return eq
}

// equal(Map, Dict) and equal(Map, Map) follow semantic of equal(Dict, Dict)

func eq_Map_Dict(a reflect.Value, b Dict) bool {
	if a.Len() != b.Len() {
		return false
	}

	aKeyType := a.Type().Key()

	ai := a.MapRange()
	for ai.Next() {
		vb, ok := b.Get_(ai.Key().Interface())
		if !ok || !equal(ai.Value().Interface(), vb) {
			return false
		}
	}

	eq := true
	b.t.iter(func(k, vb any) bool {
		xk := reflect.ValueOf(k)
		if !xk.Type().AssignableTo(aKeyType) {
			eq = false
			return false
		}
		xva := a.MapIndex(xk)
		eq = xva.IsValid() && equal(xva.Interface(), vb)
		return eq
	})
	return eq
}

func eq_Map_Map(a reflect.Value, b reflect.Value) bool {
	return mapSubset(a, b) && mapSubset(b, a)
}

func mapSubset(a, b reflect.Value) bool {
	if a.Len() != b.Len() {
		return false
	}
	bKeyType := b.Type().Key()
	ai := a.MapRange()
	for ai.Next() {
		k := ai.Key().Interface() // NOTE xk != ai.Key() because that might have type any
		xk := reflect.ValueOf(k)  //      while xk has type of particular contained value
		if !xk.Type().AssignableTo(bKeyType) {
			return false
		}
		xvb := b.MapIndex(xk)
		if !(xvb.IsValid() && equal(ai.Value().Interface(), xvb.Interface())) {
			return false
		}
	}
	return true
}

// ---- hash ----

// hash returns hash of x consistent with equality implemented by equal.
//
//	equal(a,b)  ⇒  hash(a) = hash(b)
//
// hash panics with "unhashable type: ..." if x is not allowed to be used as Dict key.
func hash(seed maphash.Seed, x any) uint64 {
	// strings/bytes use standard hash of string
	switch v := x.(type) {
	case string:
		return maphash.String(seed, v)
	case ByteString:
		return maphash.String(seed, string(v))
	case Bytes:
		return maphash.String(seed, string(v))

	case *List, Dict, Set, *PickleBuffer:
		panic(fmt.Sprintf("unhashable type: %T", x))

	case FrozenSet:
		// order-independent: sum of element hashes
		var sum uint64
		v.t.iter(func(k, _ any) bool {
			sum += hash(seed, k)
			return true
		})
		return maphash.String(seed, "frozenset") ^ sum
	}

	// for everything else we implement custom hashing ourselves to match equal
	var h maphash.Hash
	h.SetSeed(seed)

	hash_Uint := func(u uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], u)
		h.Write(b[:])
	}

	hash_Int := func(i int64) {
		hash_Uint(uint64(i))
	}

	hash_Float := func(f float64) {
		// if float is in int range and is integer number - hash it as integer
		i := int64(f)
		if float64(i) == f {
			hash_Int(i)
		} else {
			hash_Uint(math.Float64bits(f))
		}
	}

	// numbers
	r := reflect.ValueOf(x)
	k := kindOf(x)

	handled := true
	switch k {
	default:
		handled = false

	case kBool:
		hash_Int(bint(r.Bool()))
	case kInt:
		hash_Int(r.Int())
	case kUint:
		hash_Uint(r.Uint())
	case kFloat:
		hash_Float(r.Float())

	case kComplex:
		c := r.Complex()
		hash_Float(real(c))
		if imag(c) != 0 {
			hash_Float(imag(c))
		}

	case kBigInt:
		b := x.(*big.Int)
		switch {
		case b.IsInt64():
			hash_Int(b.Int64())
		case b.IsUint64():
			hash_Uint(b.Uint64())
		default:
			f, accuracy := new(big.Float).SetInt(b).Float64()
			if accuracy == big.Exact {
				hash_Float(f)
			} else {
				h.WriteString("bigInt")
				h.Write(b.Bytes())
			}
		}

	case kPointer:
		hash_Uint(uint64(r.Pointer()))
	}

	if handled {
		return h.Sum64()
	}

	// tuple
	switch v := x.(type) {
	case Tuple:
		h.WriteString("tuple")
		for _, item := range v {
			hash_Uint(hash(seed, item))
		}
		return h.Sum64()
	}

	// structs  (also covers None, Class, Call etc)
	if k == kStruct {
		typ := r.Type()
		h.WriteString(typ.Name())
		l := typ.NumField()
		for i := 0; i < l; i++ {
			f := r.Field(i)

			// .Interface() is not allowed if the field is private.
			// Work it around via unsafe. See eq_Struct_Struct for details.
			ftyp := typ.Field(i)
			if !ftyp.IsExported() {
				if !f.CanAddr() {
					r_ := reflect.New(typ).Elem()
					r_.Set(r)
					r = r_
					f = r.Field(i)
				}
				f = reflect.NewAt(ftyp.Type, f.Addr().UnsafePointer()).Elem()
			}

			hash_Uint(hash(seed, f.Interface()))
		}
		return h.Sum64()
	}

	panic(fmt.Sprintf("unhashable type: %T", x))
}

// bint returns int corresponding to bool.
//
// true  -> 1
// false -> 0
func bint(x bool) int64 {
	if x {
		return 1
	}
	return 0
}
