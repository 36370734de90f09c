package proc

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncoding is used for string access when no encoding is named.
const DefaultEncoding = "utf-8"

// LookupEncoding returns the text encoding called name. Besides the common
// aliases below any name known to the WHATWG encoding index is accepted.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, nil
	case "utf-16", "utf16", "utf-16le", "utf16le", "unicode":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case "utf-16be", "utf16be", "bigendianunicode":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	case "ascii", "us-ascii", "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	}
	e, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
	return e, nil
}

// BytesPerChar returns the width of one character in the named encoding,
// measured as the encoded length of "a".
func BytesPerChar(name string) (int, error) {
	enc, err := LookupEncoding(name)
	if err != nil {
		return 0, err
	}
	b, err := enc.NewEncoder().Bytes([]byte("a"))
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// EncodeString encodes s. When terminate is set a NUL character is appended
// in the same encoding.
func EncodeString(s, name string, terminate bool) ([]byte, error) {
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	if terminate {
		s += "\x00"
	}
	return enc.NewEncoder().Bytes([]byte(s))
}

// DecodeString decodes buf as is, without looking for a terminator.
func DecodeString(buf []byte, name string) (string, error) {
	enc, err := LookupEncoding(name)
	if err != nil {
		return "", err
	}
	b, err := enc.NewDecoder().Bytes(buf)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
