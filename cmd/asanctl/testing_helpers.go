package main

import (
	"bytes"
	"sync"
	"testing"

	"github.com/fatih/color"

	"github.com/joshuapare/asankit/pkg/asan"
)

// harness redirects command output and the exit function for one test.
type harness struct {
	out   bytes.Buffer
	diag  bytes.Buffer
	mu    sync.Mutex
	codes []int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}

	origStdout, origDiag, origExit := stdout, diagOut, exitFunc
	origNoColor := color.NoColor
	t.Cleanup(func() {
		stdout, diagOut, exitFunc = origStdout, origDiag, origExit
		color.NoColor = origNoColor
		cfg = asan.NewViper()
		quiet, verbose, jsonOut = false, false, false
	})

	stdout, diagOut = &h.out, &h.diag
	exitFunc = func(code int) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.codes = append(h.codes, code)
	}
	color.NoColor = true
	cfg = asan.NewViper()
	cfg.Set(asan.KeyArenaSize, 1<<20)
	return h
}

func (h *harness) exitCodes() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.codes...)
}
