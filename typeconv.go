package ogórek
// conversion in between Go types to match Python.

import (
	"fmt"
	"math/big"
)

// AsInt64 tries to represent unpickled value to int64.
//
// Python int is decoded as int64, while Python long is decoded as big.Int.
// Go code should use AsInt64 to accept normal-range integers independently of
// their Python representation.
func AsInt64(x any) (int64, error) {
	switch x := x.(type) {
	case int64:
		return x, nil
	case *big.Int:
		if !x.IsInt64() {
			return 0, fmt.Errorf("long outside of int64 range")
		}
		return x.Int64(), nil
	}
	return 0, fmt.Errorf("expect int64|long; got %T", x)
}

// AsBigInt tries to represent unpickled value as *big.Int.
//
// It accepts both int64 and *big.Int. The result must not be modified.
func AsBigInt(x any) (*big.Int, error) {
	switch x := x.(type) {
	case int64:
		return big.NewInt(x), nil
	case *big.Int:
		return x, nil
	}
	return nil, fmt.Errorf("expect int64|long; got %T", x)
}

// AsFloat64 tries to represent unpickled value as float64.
//
// As in Python, where int can be used wherever float is expected, it accepts
// float64, int64, *big.Int and bool.
func AsFloat64(x any) (float64, error) {
	switch x := x.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case bool:
		return float64(bint(x)), nil
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, nil
	}
	return 0, fmt.Errorf("expect float|int|long; got %T", x)
}

// AsBytes tries to represent unpickled value as Bytes.
//
// It succeeds only if the value is either [Bytes], or [ByteString].
// It does not succeed if the value is string or any other type.
//
// [ByteString] is treated related to [Bytes] because [ByteString] represents str
// type from py2 which can contain both string and binary data.
func AsBytes(x any) (Bytes, error) {
	switch x := x.(type) {
	case Bytes:
		return x, nil
	case ByteString:
		return Bytes(x), nil
	}
	return "", fmt.Errorf("expect bytes|bytestr; got %T", x)
}

// AsString tries to represent unpickled value as string.
//
// It succeeds only if the value is either string, or [ByteString].
// It does not succeed if the value is [Bytes] or any other type.
func AsString(x any) (string, error) {
	switch x := x.(type) {
	case string:
		return x, nil
	case ByteString:
		return string(x), nil
	}
	return "", fmt.Errorf("expect unicode|bytestr; got %T", x)
}

// AsList tries to represent unpickled value as a slice of items.
//
// It accepts *List, Tuple and []any. The result shares storage with x.
func AsList(x any) ([]any, error) {
	switch x := x.(type) {
	case *List:
		if x == nil {
			break
		}
		return *x, nil
	case Tuple:
		return x, nil
	case []any:
		return x, nil
	}
	return nil, fmt.Errorf("expect list|tuple; got %T", x)
}

// stringEQ compares arbitrary x to string y.
//
// It succeeds only if AsString(x) succeeds and string data of x equals to y.
func stringEQ(x any, y string) bool {
	s, err := AsString(x)
	if err != nil {
		return false
	}
	return s == y
}
