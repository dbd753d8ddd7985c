package hooks

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/asankit/asan"
	"github.com/joshuapare/asankit/internal/buf"
)

const unbounded = ^uintptr(0)

// scan returns the length of the NUL-terminated string at p, reading at most
// limit bytes. The scan itself is unchecked; callers check the bytes they use
// with loadString.
func (h *Heap) scan(p asan.Addr, limit uintptr) (uintptr, error) {
	var n uintptr
	for n < limit {
		b := h.g.Bytes(p.Add(n), 1)
		if b == nil {
			return 0, fmt.Errorf("%w: unterminated string at %s", ErrUnmapped, p)
		}
		if b[0] == 0 {
			return n, nil
		}
		n++
	}
	return n, nil
}

// loadString checks a read of the n string bytes at p plus the terminator,
// unless the scan stopped at limit before finding one.
func (h *Heap) loadString(p asan.Addr, n, limit uintptr) error {
	if n < limit {
		n++
	}
	return h.g.Load(p, n)
}

// cstring scans, checks and returns the bytes of the string at p without the
// terminator.
func (h *Heap) cstring(op string, p asan.Addr, limit uintptr) ([]byte, error) {
	if err := nonNull(op, p); err != nil {
		return nil, err
	}
	n, err := h.scan(p, limit)
	if err != nil {
		return nil, err
	}
	if err := h.loadString(p, n, limit); err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	return h.view(p, n)
}

// Strlen returns the length of the string at s.
func (h *Heap) Strlen(s asan.Addr) (uintptr, error) {
	h.log.Debug("strlen", "addr", s.String())
	b, err := h.cstring("strlen", s, unbounded)
	if err != nil {
		return 0, err
	}
	return uintptr(len(b)), nil
}

// Strnlen returns the length of the string at s, at most maxlen.
func (h *Heap) Strnlen(s asan.Addr, maxlen uintptr) (uintptr, error) {
	h.log.Debug("strnlen", "addr", s.String(), "max", maxlen)
	if maxlen == 0 {
		return 0, nil
	}
	b, err := h.cstring("strnlen", s, maxlen)
	if err != nil {
		return 0, err
	}
	return uintptr(len(b)), nil
}

// Strdup copies the string at s into a new object.
func (h *Heap) Strdup(s asan.Addr) (asan.Addr, error) {
	h.log.Debug("strdup", "addr", s.String())
	b, err := h.cstring("strdup", s, unbounded)
	if err != nil {
		return 0, err
	}
	return h.dup(b)
}

// Strndup copies at most n bytes of the string at s into a new, always
// terminated object.
func (h *Heap) Strndup(s asan.Addr, n uintptr) (asan.Addr, error) {
	h.log.Debug("strndup", "addr", s.String(), "n", n)
	if n == 0 {
		return h.dup(nil)
	}
	b, err := h.cstring("strndup", s, n)
	if err != nil {
		return 0, err
	}
	return h.dup(b)
}

func (h *Heap) dup(b []byte) (asan.Addr, error) {
	size := uintptr(len(b)) + 1
	d, err := h.g.Allocate(size, 0)
	if err != nil {
		return 0, err
	}
	out := h.g.Bytes(d, size)
	copy(out, b)
	out[len(b)] = 0
	return d, nil
}

// Strcpy copies the string at src, terminator included, to dst.
func (h *Heap) Strcpy(dst, src asan.Addr) (asan.Addr, error) {
	h.log.Debug("strcpy", "dst", dst.String(), "src", src.String())
	if err := nonNull("strcpy", dst, src); err != nil {
		return 0, err
	}
	n, err := h.scan(src, unbounded)
	if err != nil {
		return 0, err
	}
	if err := h.move(dst, src, n+1); err != nil {
		return 0, err
	}
	return dst, nil
}

// Strcat appends the string at src to the string at dst.
func (h *Heap) Strcat(dst, src asan.Addr) (asan.Addr, error) {
	h.log.Debug("strcat", "dst", dst.String(), "src", src.String())
	if err := nonNull("strcat", dst, src); err != nil {
		return 0, err
	}
	d, err := h.cstring("strcat", dst, unbounded)
	if err != nil {
		return 0, err
	}
	n, err := h.scan(src, unbounded)
	if err != nil {
		return 0, err
	}
	end, ok := buf.AddOverflowSafe(uintptr(dst), uintptr(len(d)))
	if !ok {
		return 0, fmt.Errorf("%w: strcat at %s", ErrOverflow, dst)
	}
	if err := h.move(asan.Addr(end), src, n+1); err != nil {
		return 0, err
	}
	return dst, nil
}

// Strcmp compares the strings at a and b as unsigned bytes, returning -1, 0
// or 1.
func (h *Heap) Strcmp(a, b asan.Addr) (int, error) {
	h.log.Debug("strcmp", "a", a.String(), "b", b.String())
	x, err := h.cstring("strcmp", a, unbounded)
	if err != nil {
		return 0, err
	}
	y, err := h.cstring("strcmp", b, unbounded)
	if err != nil {
		return 0, err
	}
	return bytes.Compare(x, y), nil
}

// Strncmp compares at most n bytes of the strings at a and b.
func (h *Heap) Strncmp(a, b asan.Addr, n uintptr) (int, error) {
	h.log.Debug("strncmp", "a", a.String(), "b", b.String(), "n", n)
	if n == 0 {
		return 0, nil
	}
	x, err := h.cstring("strncmp", a, n)
	if err != nil {
		return 0, err
	}
	y, err := h.cstring("strncmp", b, n)
	if err != nil {
		return 0, err
	}
	return bytes.Compare(x, y), nil
}

// Strrchr returns the address of the last c in the string at s, or 0. A c of
// 0 finds the terminator.
func (h *Heap) Strrchr(s asan.Addr, c byte) (asan.Addr, error) {
	h.log.Debug("strrchr", "addr", s.String(), "c", c)
	b, err := h.cstring("strrchr", s, unbounded)
	if err != nil {
		return 0, err
	}
	if c == 0 {
		return s.Add(uintptr(len(b))), nil
	}
	if i := bytes.LastIndexByte(b, c); i >= 0 {
		return s.Add(uintptr(i)), nil
	}
	return 0, nil
}

// Strstr returns the address of the first occurrence of the string at needle
// in the string at hay, or 0. An empty needle matches at hay.
func (h *Heap) Strstr(hay, needle asan.Addr) (asan.Addr, error) {
	h.log.Debug("strstr", "hay", hay.String(), "needle", needle.String())
	x, err := h.cstring("strstr", hay, unbounded)
	if err != nil {
		return 0, err
	}
	y, err := h.cstring("strstr", needle, unbounded)
	if err != nil {
		return 0, err
	}
	if i := bytes.Index(x, y); i >= 0 {
		return hay.Add(uintptr(i)), nil
	}
	return 0, nil
}

// Memrchr returns the address of the last byte equal to c in [p, p+n), or 0.
func (h *Heap) Memrchr(p asan.Addr, c byte, n uintptr) (asan.Addr, error) {
	h.log.Debug("memrchr", "addr", p.String(), "c", c, "n", n)
	if n == 0 {
		return 0, nil
	}
	if err := nonNull("memrchr", p); err != nil {
		return 0, err
	}
	if err := h.g.Load(p, n); err != nil {
		return 0, err
	}
	b, err := h.view(p, n)
	if err != nil {
		return 0, err
	}
	if i := bytes.LastIndexByte(b, c); i >= 0 {
		return p.Add(uintptr(i)), nil
	}
	return 0, nil
}

// Reallocarray is Realloc(p, nmemb*size) with an overflow check.
func (h *Heap) Reallocarray(p asan.Addr, nmemb, size uintptr) (asan.Addr, error) {
	total, ok := buf.MulOverflowSafe(nmemb, size)
	if !ok {
		return 0, fmt.Errorf("%w: reallocarray %d x %d", ErrOverflow, nmemb, size)
	}
	return h.Realloc(p, total)
}
