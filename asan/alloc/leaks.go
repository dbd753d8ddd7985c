package alloc

import (
	"fmt"
	"strings"

	"github.com/joshuapare/asankit/asan"
)

// Leak is an object still allocated when the listing was taken.
type Leak struct {
	Base   asan.Addr
	Size   uintptr
	Origin uint64
	Site   string
}

// Leaks lists every allocated object in address order.
func (g *Guarded) Leaks() []Leak {
	recs := g.store.Leaks()
	out := make([]Leak, len(recs))
	for i, r := range recs {
		out[i] = Leak{Base: r.Base, Size: r.Size, Origin: r.Origin, Site: g.site(r.PC)}
	}
	return out
}

// FormatLeaks renders leaks as a human-readable report, one object per line.
func FormatLeaks(leaks []Leak) string {
	if len(leaks) == 0 {
		return "no leaks detected\n"
	}
	var total uintptr
	for _, l := range leaks {
		total += l.Size
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d bytes leaked in %d allocations\n", total, len(leaks))
	for _, l := range leaks {
		fmt.Fprintf(&b, "  #%d %d bytes at %s", l.Origin, l.Size, l.Base)
		if l.Site != "" {
			fmt.Fprintf(&b, " allocated by %s", l.Site)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
