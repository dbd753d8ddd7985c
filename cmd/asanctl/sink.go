package main

import (
	"bytes"
	"io"

	"github.com/fatih/color"

	"github.com/joshuapare/asankit/asan/trace"
)

var violationPrefix = []byte("asan: ")

// newColorSink writes diagnostic lines to w, painting violation reports red.
func newColorSink(w io.Writer) trace.Sink {
	red := color.New(color.FgRed, color.Bold)
	return trace.SinkFunc(func(msg []byte) {
		if bytes.HasPrefix(msg, violationPrefix) {
			red.Fprintln(w, string(msg))
			return
		}
		trace.WriterSink(w).Log(msg)
	})
}
