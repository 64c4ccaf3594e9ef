package clarity

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Address versions used on mainnet and testnet
const (
	AddressVersionMainnetSingleSig byte = 22
	AddressVersionMainnetMultiSig  byte = 20
	AddressVersionTestnetSingleSig byte = 26
	AddressVersionTestnetMultiSig  byte = 21
)

var ErrInvalidAddress = errors.New("clarity: invalid address")

// Principal is a standard principal (version + hash160), optionally
// qualified by a contract name.
type Principal struct {
	Version      byte
	Hash160      [20]byte
	ContractName string
}

// Address returns the c32check address of the standard part
func (p Principal) Address() string {
	return "S" + c32CheckEncode(p.Version, p.Hash160[:])
}

// String returns the address, with ".name" appended for contract principals
func (p Principal) String() string {
	if p.ContractName != "" {
		return p.Address() + "." + p.ContractName
	}
	return p.Address()
}

// ParsePrincipal parses "SP..." or "SP....contract-name"
func ParsePrincipal(s string) (Principal, error) {
	var p Principal
	addr, name, hasName := strings.Cut(strings.TrimSpace(s), ".")
	if hasName {
		if name == "" || len(name) > maxContractNameLength {
			return p, fmt.Errorf("%w: bad contract name in %q", ErrInvalidAddress, s)
		}
		p.ContractName = name
	}
	if len(addr) < 3 || addr[0] != 'S' {
		return p, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	version, hash, err := c32CheckDecode(addr[1:])
	if err != nil {
		return p, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	if len(hash) != 20 {
		return p, fmt.Errorf("%w: %q: hash length %d", ErrInvalidAddress, s, len(hash))
	}
	p.Version = version
	copy(p.Hash160[:], hash)
	return p, nil
}

// MustParsePrincipal is ParsePrincipal for static configuration
func MustParsePrincipal(s string) Principal {
	p, err := ParsePrincipal(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ValidateAddress checks a standard principal address
func ValidateAddress(s string) error {
	p, err := ParsePrincipal(s)
	if err != nil {
		return err
	}
	if p.ContractName != "" {
		return fmt.Errorf("%w: %q is a contract principal", ErrInvalidAddress, s)
	}
	return nil
}

func c32Checksum(version byte, data []byte) []byte {
	first := sha256.Sum256(append([]byte{version}, data...))
	second := sha256.Sum256(first[:])
	return second[:4]
}

func c32CheckEncode(version byte, data []byte) string {
	if version >= 32 {
		return ""
	}
	payload := append(append([]byte(nil), data...), c32Checksum(version, data)...)
	return string(c32Alphabet[version]) + c32Encode(payload)
}

func c32CheckDecode(s string) (byte, []byte, error) {
	s = c32Normalize(s)
	if len(s) < 2 {
		return 0, nil, errors.New("too short")
	}
	version := strings.IndexByte(c32Alphabet, s[0])
	if version < 0 {
		return 0, nil, fmt.Errorf("invalid version character %q", s[0])
	}
	payload, err := c32Decode(s[1:])
	if err != nil {
		return 0, nil, err
	}
	if len(payload) < 4 {
		return 0, nil, errors.New("missing checksum")
	}
	data, sum := payload[:len(payload)-4], payload[len(payload)-4:]
	if !bytes.Equal(sum, c32Checksum(byte(version), data)) {
		return 0, nil, errors.New("checksum mismatch")
	}
	return byte(version), data, nil
}

// c32Encode is big-endian base32 over the c32 alphabet where every leading
// zero byte is written as one '0'.
func c32Encode(data []byte) string {
	zeros := 0
	for zeros < len(data) && data[zeros] == 0 {
		zeros++
	}
	var sb strings.Builder
	sb.WriteString(strings.Repeat("0", zeros))
	n := new(big.Int).SetBytes(data)
	if n.Sign() == 0 {
		return sb.String()
	}
	for _, d := range n.Text(32) {
		sb.WriteByte(c32Alphabet[base32DigitValue(d)])
	}
	return sb.String()
}

func c32Decode(s string) ([]byte, error) {
	zeros := 0
	for zeros < len(s) && s[zeros] == '0' {
		zeros++
	}
	n := new(big.Int)
	for i := zeros; i < len(s); i++ {
		d := strings.IndexByte(c32Alphabet, s[i])
		if d < 0 {
			return nil, fmt.Errorf("invalid c32 character %q", s[i])
		}
		n.Lsh(n, 5)
		n.Or(n, big.NewInt(int64(d)))
	}
	out := make([]byte, zeros, zeros+len(s))
	return append(out, n.Bytes()...), nil
}

func c32Normalize(s string) string {
	s = strings.ToUpper(s)
	return strings.NewReplacer("O", "0", "L", "1", "I", "1").Replace(s)
}

// base32DigitValue maps a big.Int base-32 digit ('0'-'9', 'a'-'v') to its value
func base32DigitValue(r rune) int {
	if r >= '0' && r <= '9' {
		return int(r - '0')
	}
	return int(r-'a') + 10
}
