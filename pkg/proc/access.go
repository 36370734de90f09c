package proc

import "fmt"

func (e *Engine) read(s *AddressSpace, addr Address, n int) ([]byte, error) {
	if n <= 0 {
		return nil, ErrNonPositiveSize
	}
	buf, err := s.ReadMemory(addr, n)
	if err != nil {
		e.log.Warnf("read of %d bytes at %s failed: %v", n, s.fmtAddr(addr), err)
		return nil, err
	}
	return buf, nil
}

func (e *Engine) write(s *AddressSpace, addr Address, data []byte) error {
	if _, err := s.WriteMemory(addr, data); err != nil {
		e.log.Warnf("write of %d bytes at %s failed: %v", len(data), s.fmtAddr(addr), err)
		return err
	}
	e.log.Debugf("wrote %d bytes at %s", len(data), s.fmtAddr(addr))
	return nil
}

// ReadBytes reads n bytes at addr.
func (e *Engine) ReadBytes(addr Address, n int) ([]byte, error) {
	s, err := e.open()
	if err != nil {
		return nil, err
	}
	return e.read(s, addr, n)
}

// ReadBytesAt reads n bytes at the location path resolves to.
func (e *Engine) ReadBytesAt(path PointerPath, module string, n int) ([]byte, error) {
	s, addr, err := e.locate(path, module)
	if err != nil {
		return nil, err
	}
	return e.read(s, addr, n)
}

// WriteBytes writes data at addr.
func (e *Engine) WriteBytes(addr Address, data []byte) error {
	s, err := e.open()
	if err != nil {
		return err
	}
	return e.write(s, addr, data)
}

// WriteBytesAt writes data at the location path resolves to.
func (e *Engine) WriteBytesAt(path PointerPath, module string, data []byte) error {
	s, addr, err := e.locate(path, module)
	if err != nil {
		return err
	}
	return e.write(s, addr, data)
}

// StringSpan returns the number of bytes taken by chars characters
// encoded with enc.
func StringSpan(chars int, enc string) (int, error) {
	if chars <= 0 {
		return 0, ErrNonPositiveSize
	}
	width, err := BytesPerChar(enc)
	if err != nil {
		return 0, err
	}
	if chars > MaxTransferSize/width {
		return 0, fmt.Errorf("%d characters of %d bytes: %w", chars, width, ErrSizeTooLarge)
	}
	return chars * width, nil
}

// ReadString reads chars characters encoded with enc at addr. The bytes
// are decoded as is, a terminator is neither required nor removed.
func (e *Engine) ReadString(addr Address, chars int, enc string) (string, error) {
	n, err := StringSpan(chars, enc)
	if err != nil {
		return "", err
	}
	buf, err := e.ReadBytes(addr, n)
	if err != nil {
		return "", err
	}
	return DecodeString(buf, enc)
}

// ReadStringAt is ReadString on the location path resolves to.
func (e *Engine) ReadStringAt(path PointerPath, module string, chars int, enc string) (string, error) {
	n, err := StringSpan(chars, enc)
	if err != nil {
		return "", err
	}
	buf, err := e.ReadBytesAt(path, module, n)
	if err != nil {
		return "", err
	}
	return DecodeString(buf, enc)
}

// WriteString writes str encoded with enc at addr, followed by a NUL
// character.
func (e *Engine) WriteString(addr Address, str, enc string) error {
	buf, err := EncodeString(str, enc, true)
	if err != nil {
		return err
	}
	return e.WriteBytes(addr, buf)
}

// WriteStringAt is WriteString on the location path resolves to.
func (e *Engine) WriteStringAt(path PointerPath, module, str, enc string) error {
	buf, err := EncodeString(str, enc, true)
	if err != nil {
		return err
	}
	return e.WriteBytesAt(path, module, buf)
}

// Read reads a T at addr.
func Read[T Fixed](e *Engine, addr Address) (T, error) {
	buf, err := e.ReadBytes(addr, SizeOf[T]())
	if err != nil {
		var zero T
		return zero, err
	}
	return DecodeFixed[T](buf)
}

// ReadAt reads a T at the location path resolves to.
func ReadAt[T Fixed](e *Engine, path PointerPath, module string) (T, error) {
	buf, err := e.ReadBytesAt(path, module, SizeOf[T]())
	if err != nil {
		var zero T
		return zero, err
	}
	return DecodeFixed[T](buf)
}

// ReadOr reads a T at addr and returns fallback if that fails. It suits
// callers that poll values and only care whether a read produced
// something usable; fallback must be a value the target never holds for
// the result to be unambiguous.
func ReadOr[T Fixed](e *Engine, addr Address, fallback T) T {
	v, err := Read[T](e, addr)
	if err != nil {
		return fallback
	}
	return v
}

// ReadAtOr is ReadOr on the location path resolves to.
func ReadAtOr[T Fixed](e *Engine, path PointerPath, module string, fallback T) T {
	v, err := ReadAt[T](e, path, module)
	if err != nil {
		return fallback
	}
	return v
}

// Write writes v at addr.
func Write[T Fixed](e *Engine, addr Address, v T) error {
	return e.WriteBytes(addr, EncodeFixed(v))
}

// WriteAt writes v at the location path resolves to.
func WriteAt[T Fixed](e *Engine, path PointerPath, module string, v T) error {
	return e.WriteBytesAt(path, module, EncodeFixed(v))
}

// FreezeValue freezes v at the location path resolves to.
func FreezeValue[T Fixed](e *Engine, path PointerPath, module string, v T) bool {
	return e.Freeze(path, module, EncodeFixed(v))
}
