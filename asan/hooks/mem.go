package hooks

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/asankit/asan"
)

// view returns the backing bytes of [p, p+n).
func (h *Heap) view(p asan.Addr, n uintptr) ([]byte, error) {
	b := h.g.Bytes(p, n)
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnmapped, asan.Range{Start: p, Len: n})
	}
	return b, nil
}

func nonNull(op string, ptrs ...asan.Addr) error {
	for _, p := range ptrs {
		if p == 0 {
			return fmt.Errorf("%w: %s", ErrNullPointer, op)
		}
	}
	return nil
}

// Memcpy copies n bytes from src to dst and returns dst. Overlapping ranges
// are reported as a KindOverlappingCopy violation.
func (h *Heap) Memcpy(dst, src asan.Addr, n uintptr) (asan.Addr, error) {
	h.log.Debug("memcpy", "dst", dst.String(), "src", src.String(), "n", n)
	if err := h.copyChecked("memcpy", dst, src, n); err != nil {
		return 0, err
	}
	return dst, nil
}

// Mempcpy is Memcpy returning dst+n.
func (h *Heap) Mempcpy(dst, src asan.Addr, n uintptr) (asan.Addr, error) {
	h.log.Debug("mempcpy", "dst", dst.String(), "src", src.String(), "n", n)
	if err := h.copyChecked("mempcpy", dst, src, n); err != nil {
		return 0, err
	}
	return dst.Add(n), nil
}

func (h *Heap) copyChecked(op string, dst, src asan.Addr, n uintptr) error {
	if n == 0 {
		return nil
	}
	if err := nonNull(op, dst, src); err != nil {
		return err
	}
	d, s := asan.Range{Start: dst, Len: n}, asan.Range{Start: src, Len: n}
	if d.Overlaps(s) {
		v := &asan.Violation{Kind: asan.KindOverlappingCopy, Addr: dst, Access: n}
		h.g.Report(v)
		return v
	}
	return h.move(dst, src, n)
}

// Memmove copies n bytes from src to dst; the ranges may overlap.
func (h *Heap) Memmove(dst, src asan.Addr, n uintptr) (asan.Addr, error) {
	h.log.Debug("memmove", "dst", dst.String(), "src", src.String(), "n", n)
	if n == 0 {
		return dst, nil
	}
	if err := nonNull("memmove", dst, src); err != nil {
		return 0, err
	}
	if err := h.move(dst, src, n); err != nil {
		return 0, err
	}
	return dst, nil
}

func (h *Heap) move(dst, src asan.Addr, n uintptr) error {
	if err := h.g.Load(src, n); err != nil {
		return err
	}
	if err := h.g.Store(dst, n); err != nil {
		return err
	}
	s, err := h.view(src, n)
	if err != nil {
		return err
	}
	d, err := h.view(dst, n)
	if err != nil {
		return err
	}
	copy(d, s)
	return nil
}

// Memset fills n bytes at dst with c and returns dst.
func (h *Heap) Memset(dst asan.Addr, c byte, n uintptr) (asan.Addr, error) {
	h.log.Debug("memset", "dst", dst.String(), "c", c, "n", n)
	if n == 0 {
		return dst, nil
	}
	if err := nonNull("memset", dst); err != nil {
		return 0, err
	}
	if err := h.g.Store(dst, n); err != nil {
		return 0, err
	}
	d, err := h.view(dst, n)
	if err != nil {
		return 0, err
	}
	for i := range d {
		d[i] = c
	}
	return dst, nil
}

// Bzero zeroes n bytes at dst.
func (h *Heap) Bzero(dst asan.Addr, n uintptr) error {
	_, err := h.Memset(dst, 0, n)
	return err
}

// Memcmp compares n bytes at a and b, returning -1, 0 or 1.
func (h *Heap) Memcmp(a, b asan.Addr, n uintptr) (int, error) {
	h.log.Debug("memcmp", "a", a.String(), "b", b.String(), "n", n)
	if n == 0 {
		return 0, nil
	}
	if err := nonNull("memcmp", a, b); err != nil {
		return 0, err
	}
	if err := h.g.Load(a, n); err != nil {
		return 0, err
	}
	if err := h.g.Load(b, n); err != nil {
		return 0, err
	}
	x, err := h.view(a, n)
	if err != nil {
		return 0, err
	}
	y, err := h.view(b, n)
	if err != nil {
		return 0, err
	}
	return bytes.Compare(x, y), nil
}

// Memchr returns the address of the first byte equal to c in [p, p+n), or 0.
func (h *Heap) Memchr(p asan.Addr, c byte, n uintptr) (asan.Addr, error) {
	h.log.Debug("memchr", "addr", p.String(), "c", c, "n", n)
	if n == 0 {
		return 0, nil
	}
	if err := nonNull("memchr", p); err != nil {
		return 0, err
	}
	if err := h.g.Load(p, n); err != nil {
		return 0, err
	}
	b, err := h.view(p, n)
	if err != nil {
		return 0, err
	}
	if i := bytes.IndexByte(b, c); i >= 0 {
		return p.Add(uintptr(i)), nil
	}
	return 0, nil
}
