package ogórek

import (
	"fmt"
	"math/big"
	"strings"
)

// Resolution of globals, calls and instance construction for the decoder.
//
// Without hooks in DecoderConfig, globals stay Class, calls of well-known
// builtins are translated to Go values, and everything else is represented by
// *Object that pickles back into the same opcodes.

// handleRef is common place to handle Refs.
func (d *Decoder) handleRef(ref Ref) error {
	if load := d.config.PersistentLoad; load != nil {
		obj, err := load(ref)
		if err != nil {
			return fmt.Errorf("load persistent id %v: %w", ref.Pid, err)
		}
		if obj != nil {
			d.push(obj)
			return nil
		}
	}
	d.push(ref)
	return nil
}

// findClass resolves module.name global.
func (d *Decoder) findClass(module, name string) (any, error) {
	if d.config.FixImports && d.protocol < 3 {
		module, name = compat().py2to3(module, name)
	}
	if find := d.config.FindClass; find != nil {
		obj, err := find(module, name)
		if err != nil {
			return nil, fmt.Errorf("find class %s.%s: %w", module, name, err)
		}
		if obj != nil {
			return obj, nil
		}
	}
	return Class{Module: module, Name: name}, nil
}

// call applies callable to args.
func (d *Decoder) call(callable any, args Tuple) (any, error) {
	if call := d.config.Call; call != nil {
		obj, err := call(callable, args)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			return obj, nil
		}
	}

	switch c := callable.(type) {
	case Class:
		obj, ok, err := d.callBuiltin(c, args)
		if ok || err != nil {
			return obj, err
		}
	case *Partial:
		return d.callPartial(c, args)
	}
	return &Object{Callable: callable, Args: args}, nil
}

// callBuiltin translates calls of known Python globals to Go values.
//
// ok=false means the call is not one of them.
func (d *Decoder) callBuiltin(c Class, args Tuple) (obj any, ok bool, err error) {
	module := c.Module
	switch module {
	case "__builtin__":
		module = "builtins"
	case "copy_reg":
		module = "copyreg"
	}

	switch module + "." + c.Name {
	// for protocols <= 2 Python3 encodes bytes as `_codecs.encode(byt.decode('latin1'), 'latin1')`
	case "_codecs.encode":
		if len(args) == 2 && (stringEQ(args[1], "latin1") || stringEQ(args[1], "latin-1")) {
			data, err := decodeLatin1Bytes(args[0])
			if err != nil {
				return nil, true, fmt.Errorf("_codecs.encode: %w", err)
			}
			return Bytes(data), true, nil
		}

	case "builtins.bytes":
		switch len(args) {
		case 0:
			return Bytes(""), true, nil
		case 1:
			if b, err := AsBytes(args[0]); err == nil {
				return b, true, nil
			}
		}

	// bytearray(...) -> []byte(...)
	case "builtins.bytearray":
		switch len(args) {
		case 0:
			return []byte{}, true, nil
		case 1:
			// bytearray(bytes(...))
			data, err := AsBytes(args[0])
			if err != nil {
				return nil, true, fmt.Errorf("bytearray: want (bytes,)  ; got (%T,)", args[0])
			}
			return []byte(data), true, nil
		case 2:
			// bytearray(unicode, encoding)
			if stringEQ(args[1], "latin-1") || stringEQ(args[1], "latin1") {
				data, err := decodeLatin1Bytes(args[0])
				if err != nil {
					return nil, true, fmt.Errorf("bytearray: %w", err)
				}
				return data, true, nil
			}
		}

	case "builtins.set", "builtins.frozenset":
		items, isIter := iterItems(args)
		if !isIter {
			break
		}
		err := tryTable(func() {
			if c.Name == "set" {
				obj = NewSet(items...)
			} else {
				obj = NewFrozenSet(items...)
			}
		})
		return obj, true, err

	// getattr(cls, name) is how qualified names are pickled before protocol 4
	case "builtins.getattr":
		if len(args) == 2 {
			cls, ok1 := args[0].(Class)
			name, ok2 := args[1].(string)
			if ok1 && ok2 {
				return Class{Module: cls.Module, Name: cls.Name + "." + name}, true, nil
			}
		}

	case "builtins.complex":
		var parts [2]float64
		if len(args) > 2 {
			break
		}
		for i, arg := range args {
			f, err := AsFloat64(arg)
			if err != nil {
				return nil, false, nil
			}
			parts[i] = f
		}
		return complex(parts[0], parts[1]), true, nil

	case "functools.partial":
		if len(args) >= 1 {
			return &Partial{Func: args[0], Args: append(Tuple{}, args[1:]...), Keywords: NewDict()}, true, nil
		}

	case "copyreg._reconstructor":
		if len(args) == 3 {
			obj := &Object{Callable: args[0], Args: Tuple{}, NewObj: true}
			base, _ := args[1].(Class)
			isObject := base.Name == "object" && (base.Module == "builtins" || base.Module == "__builtin__")
			if !isObject || !isNone(args[2]) {
				obj.Args = Tuple{args[2]}
			}
			return obj, true, nil
		}

	case "copyreg.__newobj__":
		if len(args) >= 1 {
			obj, err := d.newObject(args[0], args[1:], Dict{})
			return obj, true, err
		}

	case "copyreg.__newobj_ex__":
		if len(args) == 3 {
			cargs, ok1 := args[1].(Tuple)
			kwargs, ok2 := args[2].(Dict)
			if ok1 && ok2 {
				obj, err := d.newObject(args[0], cargs, kwargs)
				return obj, true, err
			}
		}
	}

	// cls.__new__(cls, *args), as obtained via getattr
	if strings.HasSuffix(c.Name, ".__new__") && len(args) >= 1 {
		obj, err := d.newObject(args[0], args[1:], Dict{})
		return obj, true, err
	}
	return nil, false, nil
}

// callPartial calls functools.partial object.
func (d *Decoder) callPartial(p *Partial, args Tuple) (any, error) {
	full := append(append(Tuple{}, p.Args...), args...)
	if c, ok := p.Func.(Class); ok && strings.HasSuffix(c.Name, ".__new__") && len(full) >= 1 {
		return d.newObject(full[0], full[1:], p.Keywords)
	}
	if p.Keywords.Len() == 0 {
		return d.call(p.Func, full)
	}
	return &Object{Callable: p, Args: args}, nil
}

// instantiate creates an instance for INST and OBJ opcodes.
//
// Without arguments the instance is created via cls.__new__, as Python does
// for classes without __getinitargs__.
func (d *Decoder) instantiate(cls any, args Tuple) (any, error) {
	if len(args) == 0 {
		return d.newObject(cls, Tuple{}, Dict{})
	}
	return d.call(cls, args)
}

// newObject creates cls.__new__(cls, *args, **kwargs).
func (d *Decoder) newObject(cls any, args Tuple, kwargs Dict) (any, error) {
	if args == nil {
		args = Tuple{}
	}
	if newf := d.config.New; newf != nil {
		obj, err := newf(cls, args, kwargs)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			return obj, nil
		}
	}
	if kwargs.Len() == 0 {
		kwargs = Dict{}
	}
	return &Object{Callable: cls, Args: args, Kwargs: kwargs, NewObj: true}, nil
}

// build applies BUILD state to inst.
func (d *Decoder) build(inst, state any) error {
	if s, ok := inst.(StateSetter); ok {
		return s.PickleSetState(state)
	}

	var slotstate any
	if t, ok := state.(Tuple); ok && len(t) == 2 {
		state, slotstate = t[0], t[1]
	}

	if !isNone(state) {
		dict, ok := state.(Dict)
		if !ok {
			return fmt.Errorf("state is not a dictionary: %T", state)
		}
		switch x := inst.(type) {
		case DictHolder:
			idict := x.PickleDict()
			err := tryTable(func() {
				dict.Iter()(func(k, v any) bool {
					idict.Set(k, v)
					return true
				})
			})
			if err != nil {
				return err
			}
		case AttrSetter:
			if err := setAttrs(x, dict); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%T does not accept state", inst)
		}
	}

	if !isNone(slotstate) {
		dict, ok := slotstate.(Dict)
		if !ok {
			return fmt.Errorf("slot state is not a dictionary: %T", slotstate)
		}
		x, ok := inst.(AttrSetter)
		if !ok {
			return fmt.Errorf("%T does not accept slot state", inst)
		}
		if err := setAttrs(x, dict); err != nil {
			return err
		}
	}
	return nil
}

func setAttrs(x AttrSetter, dict Dict) (err error) {
	dict.Iter()(func(k, v any) bool {
		var name string
		name, err = AsString(k)
		if err != nil {
			err = fmt.Errorf("attribute name must be string, not %T", k)
			return false
		}
		err = x.PickleSetAttr(name, v)
		return err == nil
	})
	return err
}

// isClassLike tells whether x can be the class argument of NEWOBJ*.
func isClassLike(x any) bool {
	switch x.(type) {
	case nil, None, bool, int64, float64, complex128, *big.Int,
		string, Bytes, ByteString, []byte, Tuple, *List, Dict, Set, FrozenSet:
		return false
	}
	return true
}

func isNone(x any) bool {
	switch x.(type) {
	case nil, None:
		return true
	}
	return false
}

// iterItems returns items of the optional iterable argument of set(...) and alike.
func iterItems(args Tuple) ([]any, bool) {
	switch len(args) {
	case 0:
		return nil, true
	case 1:
		if items, err := AsList(args[0]); err == nil {
			return items, true
		}
		switch x := args[0].(type) {
		case Set:
			return x.Items(), true
		case FrozenSet:
			return x.Items(), true
		}
	}
	return nil, false
}
