// Package ogórek(*) is a library for decoding/encoding Python's pickle format.
//
// Use Decoder to decode a pickle from input stream, for example:
//
//	d := ogórek.NewDecoder(r)
//	obj, err := d.Decode() // obj is any representing decoded Python object
//
// Use Encoder to encode an object as pickle into output stream, for example:
//
//	e := ogórek.NewEncoder(w)
//	err := e.Encode(obj)
//
// Loads and Dumps do the same for in-memory pickles.
//
// The following table summarizes mapping of basic types in between Python and Go:
//
//	Python	   Go
//	------	   --
//
//	None	   ↔  ogórek.None
//	bool	   ↔  bool
//	int	   ↔  int64
//	int	   ←  int, intX, uintX
//	long	   ↔  *big.Int
//	float	   ↔  float64
//	float	   ←  floatX
//	complex	   ↔  complex128
//	list	   ↔  *ogórek.List
//	list	   ←  []any, []T
//	tuple	   ↔  ogórek.Tuple
//	dict	   ↔  ogórek.Dict
//	dict	   ←  map[K]V, struct
//	set	   ↔  ogórek.Set
//	frozenset  ↔  ogórek.FrozenSet
//
//	str        ↔  string              (+)
//	str        ↔  ogórek.ByteString   (+)
//	bytes      ↔  ogórek.Bytes        (~)
//	bytearray  ↔  []byte
//
// Dict, Set and FrozenSet compare keys with Python semantics: 1, 1.0 and
// True are the same key, and so are "a" and ByteString("a").
//
// Python classes and instances are mapped to Class, Call and Object, for example:
//
//	Python				Go
//	------	   			--
//
//	decimal.Decimal            ↔    ogórek.Class{"decimal", "Decimal"}
//	decimal.Decimal("3.14")    ←    ogórek.Call{
//						ogórek.Class{"decimal", "Decimal"},
//						ogórek.Tuple{"3.14"},
//					}
//	decimal.Decimal("3.14")    ↔    &ogórek.Object{
//						Callable: ogórek.Class{"decimal", "Decimal"},
//						Args:     ogórek.Tuple{"3.14"},
//					}
//
// Call is only encoded. Decoded instances, created by REDUCE or via
// cls.__new__ e.g. by NEWOBJ, are represented by *Object, and
// functools.partial by *Partial. Both encode back into what they were
// decoded from.
//
// In particular on Go side it is thus by default safe to decode pickles from
// untrusted sources(^). DecoderConfig.FindClass, Call and New allow an
// application to map globals and their instances onto its own Go types.
//
//
// Pickle protocol versions
//
// Over the time the pickle stream format was evolving. The original protocol
// version 0 is human-readable with versions 1 and 2 extending the protocol in
// backward-compatible way with binary encodings for efficiency. Protocol
// version 2 is the highest protocol version that is understood by standard
// pickle module of Python2. Protocol version 3 added ways to represent Python
// bytes objects from Python3(~). Protocol version 4 further enhances on
// version 3 with framing, sets and memoization without explicit indices.
// Protocol version 5 added support for out-of-band data. Please see
// https://docs.python.org/3/library/pickle.html#data-stream-format for details.
//
// On decoding ogórek detects which protocol is being used and automatically
// handles all necessary details.
//
// On encoding ogórek by default produces pickles with protocol 5
// (DefaultProtocol). If compatibility with Python2 is needed, the protocol to
// use for encoding could be explicitly specified, for example:
//
//	e := ogórek.NewEncoderWithConfig(w, &ogórek.EncoderConfig{
//		Protocol:   2,
//		FixImports: true,
//	})
//	err := e.Encode(obj)
//
// With FixImports module and global names are translated in between their
// Python2 and Python3 spelling, e.g. builtins.set ↔ __builtin__.set, for
// protocols < 3 on both encoding and decoding.
//
// See EncoderConfig.Protocol for details.
//
//
// Reductions
//
// Go values that are not one of the types above are pickled the way Python
// pickles arbitrary objects: via a reduction. A reduction is found, in order
// of priority, from EncoderConfig.Dispatch, RegisterReducer,
// EncoderConfig.ReducerOverride, and the object's own PickleReduceEx or
// PickleReduce method. The result is either a Reduction, a tuple of the same
// shape as returned by Python's __reduce__, or a string naming a global.
//
// Objects pickled more than once, including those forming cycles, are
// pickled once and referenced from the memo afterwards.
//
//
// Out-of-band data
//
// With protocol 5 a PickleBuffer can be transferred out of the pickle stream:
// EncoderConfig.BufferCallback decides, per buffer, whether its data goes
// in-band or is left to the application, and DecoderConfig.Buffers supplies
// such data back on decoding.
//
//
// Persistent references
//
// Pickle was originally created for serialization in ZODB (http://zodb.org)
// object database, where on-disk objects can reference each other similarly to
// how one in-RAM object can have a reference to another in-RAM object.
//
// When a pickle with such persistent reference is decoded, ogórek represents
// the reference with Ref placeholder similarly to Class and Call. However it
// is possible to hook into decoding and process such references in application
// specific way, for example loading the referenced object from the database:
//
//	d := ogórek.NewDecoderWithConfig(r, &ogórek.DecoderConfig{
//		PersistentLoad: ...
//	})
//	obj, err := d.Decode()
//
// Similarly, for encoding, an application can hook into serialization process
// and turn pointers to some in-RAM objects into persistent references.
//
// Please see DecoderConfig.PersistentLoad and EncoderConfig.PersistentRef for details.
//
// Compressed pickles are handled by package zpickle.
//
// --------
//
// (*) ogórek is Polish for "pickle".
//
// (+) Python2 unicode is decoded into string, and Python2 str into ByteString
// by default. DecoderConfig.Encoding selects another representation. On
// encoding string becomes unicode and ByteString becomes str for all
// protocols.
//
// (~) bytes can be produced only by Python3 or zodbpickle (https://pypi.org/project/zodbpickle),
// not by standard Python2. Respectively, for protocol ≤ 2, what ogórek produces
// is unpickled as bytes by Python3 or zodbpickle, and as str by Python2.
//
// (^) contrary to Python implementation, where malicious pickle can cause the
// decoder to run arbitrary code, including e.g. os.system("rm -rf /").
package ogórek
