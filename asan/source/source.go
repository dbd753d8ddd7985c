package source

import "github.com/joshuapare/asankit/asan"

// Source is the raw memory the guarded heap is built on.
type Source interface {
	// Alloc reserves size bytes aligned to align (a power of two).
	Alloc(size, align uintptr) (asan.Addr, error)

	// Free returns a reservation obtained from Alloc.
	Free(addr asan.Addr) error

	// Bytes returns a view of size bytes at addr, or nil when the range is not
	// owned by the source.
	Bytes(addr asan.Addr, size uintptr) []byte
}

// Funcs adapts plain functions to Source. A nil FreeFunc makes Free a no-op;
// a nil BytesFunc makes every Bytes call return nil.
type Funcs struct {
	AllocFunc func(size, align uintptr) (asan.Addr, error)
	FreeFunc  func(addr asan.Addr) error
	BytesFunc func(addr asan.Addr, size uintptr) []byte
}

var _ Source = Funcs{}

// Alloc calls AllocFunc, failing with ErrExhausted when it is nil.
func (f Funcs) Alloc(size, align uintptr) (asan.Addr, error) {
	if f.AllocFunc == nil {
		return 0, ErrExhausted
	}
	return f.AllocFunc(size, align)
}

// Free calls FreeFunc.
func (f Funcs) Free(addr asan.Addr) error {
	if f.FreeFunc == nil {
		return nil
	}
	return f.FreeFunc(addr)
}

// Bytes calls BytesFunc.
func (f Funcs) Bytes(addr asan.Addr, size uintptr) []byte {
	if f.BytesFunc == nil {
		return nil
	}
	return f.BytesFunc(addr, size)
}
