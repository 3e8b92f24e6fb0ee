package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	stdmath "math"
	"unicode/utf8"
)

var (
	ErrInvalidMemoryAccess = errors.New("invalid memory access")
	ErrInvalidUTF8         = errors.New("invalid utf-8 string")
)

// GuestMemory is the view of a guest's linear memory that syscalls use.
// wazero's api.Memory satisfies it.
type GuestMemory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
}

func translateSlice(mem GuestMemory, addr, length uint64) ([]byte, error) {
	if mem == nil || addr > stdmath.MaxUint32 || length > stdmath.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes at %#x", ErrInvalidMemoryAccess, length, addr)
	}
	b, ok := mem.Read(uint32(addr), uint32(length))
	if !ok {
		return nil, fmt.Errorf("%w: %d bytes at %#x", ErrInvalidMemoryAccess, length, addr)
	}
	return b, nil
}

func translateString(mem GuestMemory, addr, length uint64) (string, error) {
	b, err := translateSlice(mem, addr, length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w at %#x", ErrInvalidUTF8, addr)
	}
	return string(b), nil
}

// fieldRef is a (pointer, length) pair stored in guest memory as two little
// endian u32s.
type fieldRef struct {
	addr   uint32
	length uint32
}

const fieldRefSize = 8

func translateFieldRefs(mem GuestMemory, addr, count uint64) ([]fieldRef, error) {
	if count > stdmath.MaxUint32/fieldRefSize {
		return nil, fmt.Errorf("%w: %d fields at %#x", ErrInvalidMemoryAccess, count, addr)
	}
	b, err := translateSlice(mem, addr, count*fieldRefSize)
	if err != nil {
		return nil, err
	}

	refs := make([]fieldRef, count)
	for i := range refs {
		raw := b[i*fieldRefSize:]
		refs[i] = fieldRef{
			addr:   binary.LittleEndian.Uint32(raw),
			length: binary.LittleEndian.Uint32(raw[4:]),
		}
	}
	return refs, nil
}
