package clarity

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// maxDepth bounds nesting of optionals, responses, lists and tuples
	maxDepth = 16
	// maxLength bounds any length prefix (buffer, list, tuple, string)
	maxLength = 1 << 20
	// maxContractNameLength is the consensus limit for contract names
	maxContractNameLength = 128
	// maxTupleNameLength is the consensus limit for tuple field names
	maxTupleNameLength = 128

	intWidth = 16
)

var (
	ErrTruncated    = errors.New("clarity: truncated value")
	ErrUnknownType  = errors.New("clarity: unknown type prefix")
	ErrTrailingData = errors.New("clarity: trailing bytes after value")
	ErrTooDeep      = errors.New("clarity: value nested too deeply")
	ErrInvalidValue = errors.New("clarity: invalid value")
)

var (
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	maxInt128  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	two128     = new(big.Int).Lsh(big.NewInt(1), 128)
)

// DecodeHex deserializes a hex-encoded value. The 0x prefix is optional.
func DecodeHex(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return Value{}, fmt.Errorf("clarity: invalid hex: %w", err)
	}
	return Deserialize(b)
}

// EncodeHex serializes v to 0x-prefixed hex
func EncodeHex(v Value) (string, error) {
	b, err := Serialize(v)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(b), nil
}

// Deserialize decodes exactly one value from b
func Deserialize(b []byte) (Value, error) {
	r := &reader{buf: b}
	v, err := r.value(0)
	if err != nil {
		return Value{}, err
	}
	if r.pos != len(r.buf) {
		return Value{}, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(r.buf)-r.pos)
	}
	return v, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrTruncated
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) readByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) length() (int, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(b)
	if n > maxLength {
		return 0, fmt.Errorf("%w: length %d exceeds limit", ErrInvalidValue, n)
	}
	return int(n), nil
}

func (r *reader) value(depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, ErrTooDeep
	}
	prefix, err := r.readByte()
	if err != nil {
		return Value{}, err
	}
	t := Type(prefix)

	switch t {
	case TypeInt, TypeUint:
		raw, err := r.take(intWidth)
		if err != nil {
			return Value{}, err
		}
		n := new(big.Int).SetBytes(raw)
		if t == TypeInt && raw[0]&0x80 != 0 {
			n.Sub(n, two128)
		}
		return Value{Type: t, Int: n}, nil

	case TypeBuffer:
		n, err := r.length()
		if err != nil {
			return Value{}, err
		}
		raw, err := r.take(n)
		if err != nil {
			return Value{}, err
		}
		return Buffer(raw), nil

	case TypeTrue, TypeFalse, TypeNone:
		return Value{Type: t}, nil

	case TypeStandardPrincipal, TypeContractPrincipal:
		p, err := r.principal(t == TypeContractPrincipal)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: t, Principal: &p}, nil

	case TypeResponseOk, TypeResponseErr, TypeSome:
		inner, err := r.value(depth + 1)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: t, Inner: &inner}, nil

	case TypeList:
		n, err := r.length()
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, 0, min(n, 256))
		for i := 0; i < n; i++ {
			item, err := r.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{Type: TypeList, List: items}, nil

	case TypeTuple:
		n, err := r.length()
		if err != nil {
			return Value{}, err
		}
		fields := make(map[string]Value, min(n, 64))
		for i := 0; i < n; i++ {
			nameLen, err := r.readByte()
			if err != nil {
				return Value{}, err
			}
			if nameLen == 0 || nameLen > maxTupleNameLength {
				return Value{}, fmt.Errorf("%w: tuple field name length %d", ErrInvalidValue, nameLen)
			}
			name, err := r.take(int(nameLen))
			if err != nil {
				return Value{}, err
			}
			if _, dup := fields[string(name)]; dup {
				return Value{}, fmt.Errorf("%w: duplicate tuple field %q", ErrInvalidValue, name)
			}
			field, err := r.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			fields[string(name)] = field
		}
		return Value{Type: TypeTuple, Tuple: fields}, nil

	case TypeStringASCII:
		n, err := r.length()
		if err != nil {
			return Value{}, err
		}
		raw, err := r.take(n)
		if err != nil {
			return Value{}, err
		}
		for _, c := range raw {
			if (c < 0x20 && c != '\t' && c != '\n' && c != '\r') || c > 0x7e {
				return Value{}, fmt.Errorf("%w: non-ascii byte 0x%02x in string-ascii", ErrInvalidValue, c)
			}
		}
		return StringASCII(string(raw)), nil

	case TypeStringUTF8:
		n, err := r.length()
		if err != nil {
			return Value{}, err
		}
		raw, err := r.take(n)
		if err != nil {
			return Value{}, err
		}
		if !utf8.Valid(raw) {
			return Value{}, fmt.Errorf("%w: invalid utf-8 in string-utf8", ErrInvalidValue)
		}
		return StringUTF8(string(raw)), nil
	}

	return Value{}, fmt.Errorf("%w: 0x%02x", ErrUnknownType, prefix)
}

func (r *reader) principal(withContract bool) (Principal, error) {
	var p Principal
	version, err := r.readByte()
	if err != nil {
		return p, err
	}
	if version >= 32 {
		return p, fmt.Errorf("%w: principal version %d", ErrInvalidValue, version)
	}
	p.Version = version
	hash, err := r.take(20)
	if err != nil {
		return p, err
	}
	copy(p.Hash160[:], hash)
	if !withContract {
		return p, nil
	}
	nameLen, err := r.readByte()
	if err != nil {
		return p, err
	}
	if nameLen == 0 || nameLen > maxContractNameLength {
		return p, fmt.Errorf("%w: contract name length %d", ErrInvalidValue, nameLen)
	}
	name, err := r.take(int(nameLen))
	if err != nil {
		return p, err
	}
	p.ContractName = string(name)
	return p, nil
}

// Serialize encodes v in consensus format
func Serialize(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeLength(buf *bytes.Buffer, n int) error {
	if n > maxLength {
		return fmt.Errorf("%w: length %d exceeds limit", ErrInvalidValue, n)
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	buf.Write(b[:])
	return nil
}

func writeValue(buf *bytes.Buffer, v Value, depth int) error {
	if depth > maxDepth {
		return ErrTooDeep
	}
	buf.WriteByte(byte(v.Type))

	switch v.Type {
	case TypeUint:
		if v.Int == nil || v.Int.Sign() < 0 || v.Int.Cmp(maxUint128) > 0 {
			return fmt.Errorf("%w: uint out of range", ErrInvalidValue)
		}
		var b [intWidth]byte
		v.Int.FillBytes(b[:])
		buf.Write(b[:])

	case TypeInt:
		if v.Int == nil || v.Int.Cmp(minInt128) < 0 || v.Int.Cmp(maxInt128) > 0 {
			return fmt.Errorf("%w: int out of range", ErrInvalidValue)
		}
		n := new(big.Int).Set(v.Int)
		if n.Sign() < 0 {
			n.Add(n, two128)
		}
		var b [intWidth]byte
		n.FillBytes(b[:])
		buf.Write(b[:])

	case TypeBuffer:
		if err := writeLength(buf, len(v.Bytes)); err != nil {
			return err
		}
		buf.Write(v.Bytes)

	case TypeTrue, TypeFalse, TypeNone:

	case TypeStandardPrincipal, TypeContractPrincipal:
		if v.Principal == nil {
			return fmt.Errorf("%w: missing principal", ErrInvalidValue)
		}
		buf.WriteByte(v.Principal.Version)
		buf.Write(v.Principal.Hash160[:])
		if v.Type == TypeContractPrincipal {
			name := v.Principal.ContractName
			if len(name) == 0 || len(name) > maxContractNameLength {
				return fmt.Errorf("%w: contract name length %d", ErrInvalidValue, len(name))
			}
			buf.WriteByte(byte(len(name)))
			buf.WriteString(name)
		}

	case TypeResponseOk, TypeResponseErr, TypeSome:
		if v.Inner == nil {
			return fmt.Errorf("%w: missing inner value for %s", ErrInvalidValue, v.Type)
		}
		return writeValue(buf, *v.Inner, depth+1)

	case TypeList:
		if err := writeLength(buf, len(v.List)); err != nil {
			return err
		}
		for _, item := range v.List {
			if err := writeValue(buf, item, depth+1); err != nil {
				return err
			}
		}

	case TypeTuple:
		if err := writeLength(buf, len(v.Tuple)); err != nil {
			return err
		}
		for _, name := range sortedFieldNames(v.Tuple) {
			if len(name) == 0 || len(name) > maxTupleNameLength {
				return fmt.Errorf("%w: tuple field name length %d", ErrInvalidValue, len(name))
			}
			buf.WriteByte(byte(len(name)))
			buf.WriteString(name)
			if err := writeValue(buf, v.Tuple[name], depth+1); err != nil {
				return err
			}
		}

	case TypeStringASCII, TypeStringUTF8:
		if err := writeLength(buf, len(v.Str)); err != nil {
			return err
		}
		buf.WriteString(v.Str)

	default:
		return fmt.Errorf("%w: 0x%02x", ErrUnknownType, byte(v.Type))
	}
	return nil
}
