package manifest

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lmittmann/w3"
)

// referencePrefix marks an argument value that names another artifact; the
// value is replaced with that artifact's resolved address at encode time.
const referencePrefix = "@"

// AddressLookup resolves an artifact name to its address for the current run.
type AddressLookup func(name string) (common.Address, bool)

// ArtifactReference reports whether value refers to another artifact
// ("@Name") and returns the referenced name.
func ArtifactReference(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, referencePrefix) {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimPrefix(trimmed, referencePrefix))
	if name == "" {
		return "", false
	}
	return name, true
}

// ConstructorArgs ABI-encodes the immutable arguments. The result is appended
// to the linked creation code, so it takes part in address derivation.
func (s ArtifactSpec) ConstructorArgs(lookup AddressLookup) ([]byte, error) {
	if len(s.Immutable.Types) == 0 {
		return nil, nil
	}
	args, err := parseArgumentTypes(s.Immutable.Types)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s constructor: %w", s.Name, err)
	}
	values, err := convertValues(args, s.Immutable.Values, lookup)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s constructor: %w", s.Name, err)
	}
	encoded, err := args.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s constructor: pack: %w", s.Name, err)
	}
	return encoded, nil
}

// InitializerCalldata encodes the proxy initializer call, or returns nil when
// the proxy declares none.
func (p ProxySpec) InitializerCalldata(lookup AddressLookup) ([]byte, error) {
	if p.Initializer == nil {
		return nil, nil
	}
	fn, err := w3.NewFunc(p.Initializer.Signature, "")
	if err != nil {
		return nil, fmt.Errorf("manifest: initializer %s: %w", p.Initializer.Signature, err)
	}
	if len(fn.Args) != len(p.Initializer.Args) {
		return nil, fmt.Errorf("manifest: initializer %s expects %d args, got %d", p.Initializer.Signature, len(fn.Args), len(p.Initializer.Args))
	}
	values, err := convertValues(fn.Args, p.Initializer.Args, lookup)
	if err != nil {
		return nil, fmt.Errorf("manifest: initializer %s: %w", p.Initializer.Signature, err)
	}
	return fn.EncodeArgs(values...)
}

func parseArgumentTypes(types []string) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(types))
	for i, raw := range types {
		typ, err := abi.NewType(strings.TrimSpace(raw), "", nil)
		if err != nil {
			return nil, fmt.Errorf("arg[%d] type %q: %w", i, raw, err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args, nil
}

func convertValues(args abi.Arguments, raw []string, lookup AddressLookup) ([]any, error) {
	values := make([]any, len(args))
	for i, arg := range args {
		value := raw[i]
		if ref, ok := ArtifactReference(value); ok {
			if arg.Type.T != abi.AddressTy {
				return nil, fmt.Errorf("arg[%d]: reference %s requires an address parameter, got %s", i, value, arg.Type.String())
			}
			if lookup == nil {
				return nil, fmt.Errorf("arg[%d]: no address available for %s", i, ref)
			}
			addr, found := lookup(ref)
			if !found {
				return nil, fmt.Errorf("arg[%d]: no address available for %s", i, ref)
			}
			values[i] = addr
			continue
		}
		converted, err := convertValue(arg.Type, value)
		if err != nil {
			return nil, fmt.Errorf("arg[%d]: %w", i, err)
		}
		values[i] = converted
	}
	return values, nil
}

func convertValue(typ abi.Type, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch typ.T {
	case abi.AddressTy:
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid address %q", raw)
		}
		return common.HexToAddress(raw), nil
	case abi.BoolTy:
		return strconv.ParseBool(raw)
	case abi.StringTy:
		return raw, nil
	case abi.BytesTy:
		return hexutil.Decode(raw)
	case abi.FixedBytesTy:
		data, err := hexutil.Decode(raw)
		if err != nil {
			return nil, err
		}
		if len(data) > typ.Size {
			return nil, fmt.Errorf("%d bytes do not fit %s", len(data), typ.String())
		}
		out := reflect.New(typ.GetType()).Elem()
		reflect.Copy(out, reflect.ValueOf(data))
		return out.Interface(), nil
	case abi.IntTy, abi.UintTy:
		n, ok := new(big.Int).SetString(raw, 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		if typ.T == abi.UintTy && n.Sign() < 0 {
			return nil, fmt.Errorf("negative value %s for %s", raw, typ.String())
		}
		if !fitsInteger(n, typ) {
			return nil, fmt.Errorf("%s overflows %s", raw, typ.String())
		}
		goType := typ.GetType()
		if goType.Kind() == reflect.Ptr {
			return n, nil
		}
		out := reflect.New(goType).Elem()
		if typ.T == abi.UintTy {
			out.SetUint(n.Uint64())
		} else {
			out.SetInt(n.Int64())
		}
		return out.Interface(), nil
	default:
		return nil, fmt.Errorf("unsupported argument type %s", typ.String())
	}
}

// fitsInteger reports whether n lies in the range of the sized ABI integer.
func fitsInteger(n *big.Int, typ abi.Type) bool {
	if typ.T == abi.UintTy {
		return n.Sign() >= 0 && n.BitLen() <= typ.Size
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(typ.Size-1))
	if n.Sign() < 0 {
		return n.Cmp(new(big.Int).Neg(limit)) >= 0
	}
	return n.Cmp(limit) < 0
}
