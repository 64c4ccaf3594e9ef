// Package clarity implements the Clarity consensus serialization used for
// contract-call arguments and read-only call results on Stacks.
package clarity

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Type is the one-byte type prefix of a serialized value
type Type byte

const (
	TypeInt               Type = 0x00
	TypeUint              Type = 0x01
	TypeBuffer            Type = 0x02
	TypeTrue              Type = 0x03
	TypeFalse             Type = 0x04
	TypeStandardPrincipal Type = 0x05
	TypeContractPrincipal Type = 0x06
	TypeResponseOk        Type = 0x07
	TypeResponseErr       Type = 0x08
	TypeNone              Type = 0x09
	TypeSome              Type = 0x0a
	TypeList              Type = 0x0b
	TypeTuple             Type = 0x0c
	TypeStringASCII       Type = 0x0d
	TypeStringUTF8        Type = 0x0e
)

var typeNames = map[Type]string{
	TypeInt:               "int",
	TypeUint:              "uint",
	TypeBuffer:            "buff",
	TypeTrue:              "true",
	TypeFalse:             "false",
	TypeStandardPrincipal: "principal",
	TypeContractPrincipal: "contract-principal",
	TypeResponseOk:        "ok",
	TypeResponseErr:       "err",
	TypeNone:              "none",
	TypeSome:              "some",
	TypeList:              "list",
	TypeTuple:             "tuple",
	TypeStringASCII:       "string-ascii",
	TypeStringUTF8:        "string-utf8",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(0x%02x)", byte(t))
}

// Value is a decoded Clarity value. Only the fields relevant to Type are set.
type Value struct {
	Type      Type
	Int       *big.Int
	Bytes     []byte
	Str       string
	Principal *Principal
	Inner     *Value
	List      []Value
	Tuple     map[string]Value
}

// Uint returns a uint value
func Uint(n *big.Int) Value {
	return Value{Type: TypeUint, Int: new(big.Int).Set(n)}
}

// UintFrom64 returns a uint value from a native integer
func UintFrom64(n uint64) Value {
	return Value{Type: TypeUint, Int: new(big.Int).SetUint64(n)}
}

// Int returns a signed int value
func Int(n *big.Int) Value {
	return Value{Type: TypeInt, Int: new(big.Int).Set(n)}
}

// Bool returns true or false
func Bool(b bool) Value {
	if b {
		return Value{Type: TypeTrue}
	}
	return Value{Type: TypeFalse}
}

// Buffer returns a buff value
func Buffer(b []byte) Value {
	return Value{Type: TypeBuffer, Bytes: append([]byte(nil), b...)}
}

// StringASCII returns a string-ascii value
func StringASCII(s string) Value {
	return Value{Type: TypeStringASCII, Str: s}
}

// StringUTF8 returns a string-utf8 value
func StringUTF8(s string) Value {
	return Value{Type: TypeStringUTF8, Str: s}
}

// PrincipalValue wraps a standard or contract principal
func PrincipalValue(p Principal) Value {
	if p.ContractName != "" {
		return Value{Type: TypeContractPrincipal, Principal: &p}
	}
	return Value{Type: TypeStandardPrincipal, Principal: &p}
}

// None returns the empty optional
func None() Value {
	return Value{Type: TypeNone}
}

// Some wraps v in an optional
func Some(v Value) Value {
	return Value{Type: TypeSome, Inner: &v}
}

// Ok wraps v in an ok response
func Ok(v Value) Value {
	return Value{Type: TypeResponseOk, Inner: &v}
}

// Err wraps v in an err response
func Err(v Value) Value {
	return Value{Type: TypeResponseErr, Inner: &v}
}

// List returns a list value
func List(items ...Value) Value {
	return Value{Type: TypeList, List: items}
}

// Tuple returns a tuple value
func Tuple(fields map[string]Value) Value {
	return Value{Type: TypeTuple, Tuple: fields}
}

// AsUint returns the integer if v is a uint
func (v Value) AsUint() (*big.Int, bool) {
	if v.Type != TypeUint || v.Int == nil {
		return nil, false
	}
	return v.Int, true
}

// AsUint64 returns the integer if v is a uint that fits in 64 bits
func (v Value) AsUint64() (uint64, bool) {
	n, ok := v.AsUint()
	if !ok || !n.IsUint64() {
		return 0, false
	}
	return n.Uint64(), true
}

// AsBool returns the boolean if v is true or false
func (v Value) AsBool() (bool, bool) {
	switch v.Type {
	case TypeTrue:
		return true, true
	case TypeFalse:
		return false, true
	}
	return false, false
}

// AsStringASCII returns the string if v is a string-ascii
func (v Value) AsStringASCII() (string, bool) {
	if v.Type != TypeStringASCII {
		return "", false
	}
	return v.Str, true
}

// AsPrincipal returns the principal if v is a standard or contract principal
func (v Value) AsPrincipal() (Principal, bool) {
	if (v.Type != TypeStandardPrincipal && v.Type != TypeContractPrincipal) || v.Principal == nil {
		return Principal{}, false
	}
	return *v.Principal, true
}

// AsList returns the items if v is a list
func (v Value) AsList() ([]Value, bool) {
	if v.Type != TypeList {
		return nil, false
	}
	return v.List, true
}

// AsOptional reports whether v is an optional, and if so whether it is some
func (v Value) AsOptional() (inner *Value, isSome bool, ok bool) {
	switch v.Type {
	case TypeNone:
		return nil, false, true
	case TypeSome:
		return v.Inner, true, v.Inner != nil
	}
	return nil, false, false
}

// Field returns a tuple field
func (v Value) Field(name string) (Value, bool) {
	if v.Type != TypeTuple {
		return Value{}, false
	}
	f, ok := v.Tuple[name]
	return f, ok
}

// String renders v in Clarity literal syntax
func (v Value) String() string {
	switch v.Type {
	case TypeInt:
		return v.Int.String()
	case TypeUint:
		return "u" + v.Int.String()
	case TypeBuffer:
		return fmt.Sprintf("0x%x", v.Bytes)
	case TypeTrue:
		return "true"
	case TypeFalse:
		return "false"
	case TypeStandardPrincipal, TypeContractPrincipal:
		return "'" + v.Principal.String()
	case TypeResponseOk:
		return "(ok " + v.Inner.String() + ")"
	case TypeResponseErr:
		return "(err " + v.Inner.String() + ")"
	case TypeNone:
		return "none"
	case TypeSome:
		return "(some " + v.Inner.String() + ")"
	case TypeList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.String()
		}
		return "(list " + strings.Join(parts, " ") + ")"
	case TypeTuple:
		names := sortedFieldNames(v.Tuple)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = "(" + name + " " + v.Tuple[name].String() + ")"
		}
		return "(tuple " + strings.Join(parts, " ") + ")"
	case TypeStringASCII:
		return fmt.Sprintf("%q", v.Str)
	case TypeStringUTF8:
		return fmt.Sprintf("u%q", v.Str)
	}
	return v.Type.String()
}

func sortedFieldNames(fields map[string]Value) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
