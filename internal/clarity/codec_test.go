package clarity

import (
	"errors"
	"math/big"
	"strings"
	"testing"
)

func TestDecodeHex_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		hex  string
		want string
	}{
		{"uint", "0x01000000000000000000000000000f4240", "u1000000"},
		{"uint without prefix", "01000000000000000000000000000f4240", "u1000000"},
		{"negative int", "0x00ffffffffffffffffffffffffffffffff", "-1"},
		{"string-ascii", "0x0d000000036d6961", `"mia"`},
		{"none", "0x09", "none"},
		{"standard principal", "0x0516a46ff88886c2ef9762d970b4d2c63678835bd39d", "'SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"},
		{
			"contract principal",
			"0x061610a4c7e3b4f3a06482dd12510fe9aec82cfc0236166363643030362d63697479636f696e2d6d696e696e67",
			"'SP8A9HZ3PKST0S42VM9523Z9NV42SZ026V4K39WH.ccd006-citycoin-mining",
		},
		{"optional tuple", "0x0a0c0000000207636c61696d6564040677696e6e657203", "(some (tuple (claimed false) (winner true)))"},
		{
			"list of uint",
			"0x0b0000000301000000000000000000000000000f424001000000000000000000000000000f424001000000000000000000000000000f4240",
			"(list u1000000 u1000000 u1000000)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := DecodeHex(tt.hex)
			if err != nil {
				t.Fatalf("DecodeHex failed: %v", err)
			}
			if got := v.String(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestEncodeHex_MatchesDecodedInput(t *testing.T) {
	inputs := []string{
		"0x01000000000000000000000000000f4240",
		"0x00ffffffffffffffffffffffffffffffff",
		"0x0d000000036d6961",
		"0x0516a46ff88886c2ef9762d970b4d2c63678835bd39d",
		"0x0a0c0000000207636c61696d6564040677696e6e657203",
	}
	for _, in := range inputs {
		v, err := DecodeHex(in)
		if err != nil {
			t.Fatalf("DecodeHex(%s) failed: %v", in, err)
		}
		out, err := EncodeHex(v)
		if err != nil {
			t.Fatalf("EncodeHex failed: %v", err)
		}
		if out != in {
			t.Errorf("expected %s, got %s", in, out)
		}
	}
}

func TestDecodeHex_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		hex     string
		wantErr error
	}{
		{"empty", "0x", ErrTruncated},
		{"truncated uint", "0x0100000000", ErrTruncated},
		{"unknown prefix", "0x42", ErrUnknownType},
		{"trailing bytes", "0x0900", ErrTrailingData},
		{"list longer than payload", "0x0b00000002" + "09", ErrTruncated},
		{"non-ascii in string-ascii", "0x0d00000001ff", ErrInvalidValue},
		{"duplicate tuple field", "0x0c00000002" + "0161" + "03" + "0161" + "04", ErrInvalidValue},
		{"huge length prefix", "0x02ffffffff", ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHex(tt.hex)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDecodeHex_InvalidHex(t *testing.T) {
	if _, err := DecodeHex("0xzz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestDeserialize_DepthLimit(t *testing.T) {
	// (some (some ... none))
	raw := strings.Repeat("0a", maxDepth+2) + "09"
	_, err := DecodeHex(raw)
	if !errors.Is(err, ErrTooDeep) {
		t.Errorf("expected ErrTooDeep, got %v", err)
	}
}

func TestSerialize_UintRange(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 128)
	if _, err := Serialize(Uint(tooBig)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue for 2^128, got %v", err)
	}
	if _, err := Serialize(Uint(big.NewInt(-1))); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue for negative uint, got %v", err)
	}
	if _, err := Serialize(Uint(maxUint128)); err != nil {
		t.Errorf("max uint128 should serialize: %v", err)
	}
}

func TestValueAccessors(t *testing.T) {
	v := Some(Tuple(map[string]Value{
		"winner":  Bool(true),
		"claimed": Bool(false),
	}))

	inner, isSome, ok := v.AsOptional()
	if !ok || !isSome {
		t.Fatal("expected some optional")
	}
	winner, ok := inner.Field("winner")
	if !ok {
		t.Fatal("missing winner field")
	}
	if b, ok := winner.AsBool(); !ok || !b {
		t.Error("expected winner to be true")
	}

	if _, ok := StringASCII("mia").AsUint(); ok {
		t.Error("string should not read as uint")
	}

	big128 := new(big.Int).Lsh(big.NewInt(1), 70)
	if _, ok := Uint(big128).AsUint64(); ok {
		t.Error("2^70 should not fit in uint64")
	}
	if n, ok := UintFrom64(58931).AsUint64(); !ok || n != 58931 {
		t.Errorf("expected 58931, got %d", n)
	}
}
