// Package abiargs converts JSON decoded call arguments into the Go values
// go-ethereum's ABI encoder expects.
package abiargs

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	gcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vultisig/txengine/internal/types"
)

// Convert coerces raw, as produced by encoding/json, into values matching
// args. Values that already have the ABI Go type are passed through.
func Convert(args abi.Arguments, raw []interface{}) ([]interface{}, error) {
	if len(raw) != len(args) {
		return nil, types.NewTransactionError(types.CodeInvalidAddressOrArgs, nil,
			"expected %d arguments, got %d", len(args), len(raw))
	}
	out := make([]interface{}, len(args))
	for i, arg := range args {
		v, err := convert(arg.Type, raw[i])
		if err != nil {
			name := arg.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, types.NewTransactionError(types.CodeInvalidAddressOrArgs, err,
				"invalid argument %s (%s): %v", name, arg.Type.String(), err)
		}
		out[i] = v
	}
	return out, nil
}

// ConvertMethod converts raw for method in parsed; the empty method name
// selects the constructor.
func ConvertMethod(parsed abi.ABI, method string, raw []interface{}) ([]interface{}, error) {
	if method == "" || method == types.ConstructorFunction {
		return Convert(parsed.Constructor.Inputs, raw)
	}
	m, ok := parsed.Methods[method]
	if !ok {
		return nil, types.NewTransactionError(types.CodeInvalidAddressOrArgs, nil, "function %s not found in contract abi", method)
	}
	return Convert(m.Inputs, raw)
}

func convert(t abi.Type, v interface{}) (interface{}, error) {
	goType := t.GetType()
	if v != nil && reflect.TypeOf(v) == goType {
		return v, nil
	}

	switch t.T {
	case abi.AddressTy:
		s, ok := v.(string)
		if !ok || !gcommon.IsHexAddress(s) {
			return nil, fmt.Errorf("expected a hex address, got %v", v)
		}
		return gcommon.HexToAddress(s), nil

	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToLower(b) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, fmt.Errorf("expected a bool, got %v", v)

	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %v", v)
		}
		return s, nil

	case abi.BytesTy:
		return toBytes(v)

	case abi.FixedBytesTy:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("expected %d bytes, got %d", t.Size, len(b))
		}
		arr := reflect.New(goType).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil

	case abi.IntTy, abi.UintTy:
		n, err := toBigInt(v)
		if err != nil {
			return nil, err
		}
		return fitInteger(t, n)

	case abi.SliceTy:
		items, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("expected an array, got %v", v)
		}
		slice := reflect.MakeSlice(goType, len(items), len(items))
		for i, item := range items {
			elem, err := convert(*t.Elem, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			slice.Index(i).Set(reflect.ValueOf(elem))
		}
		return slice.Interface(), nil

	case abi.ArrayTy:
		items, ok := v.([]interface{})
		if !ok || len(items) != t.Size {
			return nil, fmt.Errorf("expected an array of %d items, got %v", t.Size, v)
		}
		arr := reflect.New(goType).Elem()
		for i, item := range items {
			elem, err := convert(*t.Elem, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr.Index(i).Set(reflect.ValueOf(elem))
		}
		return arr.Interface(), nil

	case abi.TupleTy:
		fields, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expected an object, got %v", v)
		}
		tuple := reflect.New(goType).Elem()
		for i, elemType := range t.TupleElems {
			name := t.TupleRawNames[i]
			elem, err := convert(*elemType, fields[name])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			tuple.Field(i).Set(reflect.ValueOf(elem))
		}
		return tuple.Interface(), nil
	}
	return nil, fmt.Errorf("unsupported abi type %s", t.String())
}

func toBytes(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		decoded, err := hexutil.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("expected 0x prefixed hex, got %q", b)
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("expected hex bytes, got %v", v)
}

func toBigInt(v interface{}) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return n, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("expected an integer, got %v", n)
		}
		// json numbers above 2^53 lose precision, pass those as strings
		if math.Abs(n) > 1<<53 {
			return nil, fmt.Errorf("number %v is too large to be exact, pass it as a string", n)
		}
		return big.NewInt(int64(n)), nil
	case json.Number:
		return parseBig(n.String())
	case string:
		return parseBig(n)
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	}
	return nil, fmt.Errorf("expected an integer, got %v", v)
}

func parseBig(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

// fitInteger range checks n against t and returns it as the Go type the ABI
// encoder uses for t's width.
func fitInteger(t abi.Type, n *big.Int) (interface{}, error) {
	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s out of range for uint%d", n, t.Size)
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		minValue := new(big.Int).Neg(limit)
		if n.Cmp(minValue) < 0 || n.Cmp(limit) >= 0 {
			return nil, fmt.Errorf("%s out of range for int%d", n, t.Size)
		}
	}

	goType := t.GetType()
	if goType == reflect.TypeOf(&big.Int{}) {
		return new(big.Int).Set(n), nil
	}
	if t.T == abi.UintTy {
		return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil
}
