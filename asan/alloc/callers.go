package alloc

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

const modulePath = "github.com/joshuapare/asankit/"

// internalPackages are skipped when looking for the allocating call site.
var internalPackages = []string{
	modulePath + "asan/",
	modulePath + "pkg/asan.",
}

// captureCaller returns the program counter of the first frame outside the
// allocator's own packages. Frames from test files always count as callers.
func (g *Guarded) captureCaller() uintptr {
	var pcs [16]uintptr
	n := runtime.Callers(2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isInternalFrame(frame) {
			if _, ok := g.sites.Load(frame.PC); !ok {
				g.sites.Store(frame.PC, formatFrame(frame))
			}
			return frame.PC
		}
		if !more {
			return 0
		}
	}
}

func isInternalFrame(f runtime.Frame) bool {
	if strings.HasSuffix(f.File, "_test.go") {
		return false
	}
	for _, prefix := range internalPackages {
		if strings.HasPrefix(f.Function, prefix) {
			return true
		}
	}
	return false
}

func formatFrame(f runtime.Frame) string {
	fn := f.Function
	if i := strings.LastIndexByte(fn, '/'); i >= 0 {
		fn = fn[i+1:]
	}
	return fmt.Sprintf("%s %s:%d", fn, filepath.Base(f.File), f.Line)
}

// site names the call site recorded for pc, or "" when none was captured.
func (g *Guarded) site(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	if s, ok := g.sites.Load(pc); ok {
		return s.(string)
	}
	return ""
}
