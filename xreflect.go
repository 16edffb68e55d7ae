package ogórek
// Utilities that complement std reflect package.

import (
	"math"
	"math/big"
	"reflect"
	"unsafe"
)

// deepEqual is like reflect.DeepEqual but also supports Dict, Set and
// FrozenSet at any nesting level, and self-referencing *List and *Object.
//
// It is needed because reflect.DeepEqual considers two Dicts not-equal because
// each Dict is made with its own seed.
func deepEqual(a, b any) bool {
	d := &deepEq{visited: make(map[[2]unsafe.Pointer]bool)}
	return d.eq(a, b)
}

type deepEq struct {
	// pairs of containers that are being compared, or were found equal
	visited map[[2]unsafe.Pointer]bool
}

// enter returns true if pair (pa, pb) was already met.
func (d *deepEq) enter(pa, pb unsafe.Pointer) bool {
	k := [2]unsafe.Pointer{pa, pb}
	if d.visited[k] {
		return true
	}
	d.visited[k] = true
	return false
}

func (d *deepEq) eq(a, b any) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}

	switch a := a.(type) {
	case float64:
		bf := b.(float64)
		return a == bf || (math.IsNaN(a) && math.IsNaN(bf))

	case *big.Int:
		bb := b.(*big.Int)
		if a == nil || bb == nil {
			return a == bb
		}
		return a.Cmp(bb) == 0

	case Tuple:
		return d.eqSlice(a, b.(Tuple))
	case []any:
		return d.eqSlice(a, b.([]any))

	case *List:
		bl := b.(*List)
		if a == nil || bl == nil {
			return a == bl
		}
		if d.enter(unsafe.Pointer(a), unsafe.Pointer(bl)) {
			return true
		}
		return d.eqSlice(*a, *bl)

	case Dict:
		bd := b.(Dict)
		if a.t != nil && bd.t != nil && d.enter(unsafe.Pointer(a.t), unsafe.Pointer(bd.t)) {
			return true
		}
		return d.eqDict(a, bd)

	case Set:
		return eqItems(a.Items(), b.(Set).Items())
	case FrozenSet:
		return eqItems(a.Items(), b.(FrozenSet).Items())

	case *Object:
		bo := b.(*Object)
		if a == nil || bo == nil {
			return a == bo
		}
		if d.enter(unsafe.Pointer(a), unsafe.Pointer(bo)) {
			return true
		}
		return a.NewObj == bo.NewObj &&
			d.eq(a.Callable, bo.Callable) &&
			d.eqSlice(a.Args, bo.Args) &&
			d.eqDict(a.Kwargs, bo.Kwargs) &&
			d.eq(a.State, bo.State) &&
			d.eqSlice(a.ListItems, bo.ListItems) &&
			d.eqDict(a.DictItems, bo.DictItems)

	case *Partial:
		bp := b.(*Partial)
		if a == nil || bp == nil {
			return a == bp
		}
		return d.eq(a.Func, bp.Func) &&
			d.eqSlice(a.Args, bp.Args) &&
			d.eqDict(a.Keywords, bp.Keywords)

	case Call:
		bc := b.(Call)
		return d.eq(a.Callable, bc.Callable) && d.eqSlice(a.Args, bc.Args)

	case complex128:
		return a == b.(complex128)
	}

	return reflect.DeepEqual(a, b)
}

func (d *deepEq) eqSlice(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !d.eq(a[i], b[i]) {
			return false
		}
	}
	return true
}

// eqDict compares Dicts, keys exactly and values deeply.
//
// XXX O(n^2) because we want to compare keys exactly and so cannot use
// b.Get(ka) because Dict.Get uses general equality that would match e.g. int == int64.
func (d *deepEq) eqDict(a, b Dict) bool {
	if a.Len() != b.Len() {
		return false
	}
	eq := true
	a.Iter()(func(ka, va any) bool {
		keq := false
		b.Iter()(func(kb, vb any) bool {
			// NOTE don't use reflect.Equal(ka,kb) because it does not handle e.g. big.Int
			if reflect.TypeOf(ka) == reflect.TypeOf(kb) && equal(ka, kb) {
				keq = d.eq(va, vb)
				return false
			}
			return true
		})
		if !keq {
			eq = false
			return false
		}
		return true
	})
	return eq
}

// eqItems compares set items exactly.
func eqItems(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		found := false
		for _, y := range b {
			if reflect.TypeOf(x) == reflect.TypeOf(y) && equal(x, y) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
