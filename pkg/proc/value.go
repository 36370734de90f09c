package proc

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Kind names the type of a value in the target.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindByte
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindString
	KindBytes
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindByte:    "byte",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindString:  "string",
	KindBytes:   "bytes",
}

var kindAliases = map[string]Kind{
	"byte":    KindByte,
	"u8":      KindByte,
	"int32":   KindInt32,
	"int":     KindInt32,
	"i32":     KindInt32,
	"int64":   KindInt64,
	"long":    KindInt64,
	"i64":     KindInt64,
	"float32": KindFloat32,
	"float":   KindFloat32,
	"f32":     KindFloat32,
	"float64": KindFloat64,
	"double":  KindFloat64,
	"f64":     KindFloat64,
	"string":  KindString,
	"str":     KindString,
	"bytes":   KindBytes,
	"raw":     KindBytes,
}

// ParseKind returns the Kind called s.
func ParseKind(s string) (Kind, error) {
	if k, ok := kindAliases[strings.ToLower(s)]; ok {
		return k, nil
	}
	return KindInvalid, fmt.Errorf("unknown value type %q", s)
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Size returns the width of k in bytes, or 0 for variable length kinds.
func (k Kind) Size() int {
	switch k {
	case KindByte:
		return 1
	case KindInt32, KindFloat32:
		return 4
	case KindInt64, KindFloat64:
		return 8
	}
	return 0
}

// EncodeValue converts the textual form of a value into the bytes stored
// in the target. Strings are encoded with enc and are not terminated,
// byte strings are hex.
func EncodeValue(k Kind, text, enc string) ([]byte, error) {
	switch k {
	case KindByte:
		v, err := strconv.ParseUint(text, 0, 8)
		if err != nil {
			return nil, err
		}
		return []byte{byte(v)}, nil
	case KindInt32:
		v, err := parseIntBits(text, 32)
		if err != nil {
			return nil, err
		}
		return EncodeFixed(int32(v)), nil
	case KindInt64:
		v, err := parseIntBits(text, 64)
		if err != nil {
			return nil, err
		}
		return EncodeFixed(v), nil
	case KindFloat32:
		v, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, err
		}
		return EncodeFixed(float32(v)), nil
	case KindFloat64:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, err
		}
		return EncodeFixed(v), nil
	case KindString:
		return EncodeString(text, enc, false)
	case KindBytes:
		return ParseHexBytes(text)
	}
	return nil, fmt.Errorf("can not encode value of type %v", k)
}

// parseIntBits parses a signed integer of the given width. Values out of
// the signed range are accepted as unsigned bit patterns, so "0xffffffff"
// is -1 for a 32-bit integer.
func parseIntBits(text string, bits int) (int64, error) {
	v, err := strconv.ParseInt(text, 0, bits)
	if err == nil {
		return v, nil
	}
	u, uerr := strconv.ParseUint(text, 0, bits)
	if uerr != nil {
		return 0, err
	}
	return int64(u), nil
}

// FormatValue is the inverse of EncodeValue.
func FormatValue(k Kind, buf []byte, enc string) (string, error) {
	if sz := k.Size(); sz != 0 && len(buf) < sz {
		return "", fmt.Errorf("need %d bytes for %v, have %d", sz, k, len(buf))
	}
	switch k {
	case KindByte:
		return strconv.FormatUint(uint64(buf[0]), 10), nil
	case KindInt32:
		v, _ := DecodeFixed[int32](buf)
		return strconv.FormatInt(int64(v), 10), nil
	case KindInt64:
		v, _ := DecodeFixed[int64](buf)
		return strconv.FormatInt(v, 10), nil
	case KindFloat32:
		v, _ := DecodeFixed[float32](buf)
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case KindFloat64:
		v, _ := DecodeFixed[float64](buf)
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case KindString:
		return DecodeString(buf, enc)
	case KindBytes:
		return hex.EncodeToString(buf), nil
	}
	return "", fmt.Errorf("can not format value of type %v", k)
}

// ParseHexBytes parses a hex string such as "90 90 c3" or "0x9090c3".
func ParseHexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == ',' || r == '\t' {
			return -1
		}
		return r
	}, s)
	return hex.DecodeString(s)
}
