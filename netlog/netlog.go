// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package netlog provides the leveled logging sink used across the stack's
// layers to report the drop-and-continue disposition of malformed frames
// and protocol mismatches (see the error handling design in SPEC_FULL.md §9)
// without ever escalating them to an error return.
package netlog

import (
	"log"
	"os"
)

// Logger is the leveled sink every layer of the stack writes through. The
// default implementation wraps the standard library's log.Logger; a
// truly no-heap target can supply its own implementation backed by
// print/println.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// stdLogger adapts *log.Logger to Logger.
type stdLogger struct {
	*log.Logger
}

func (l *stdLogger) Debugf(format string, args ...any) { l.Printf("debug: "+format, args...) }
func (l *stdLogger) Infof(format string, args ...any)  { l.Printf("info: "+format, args...) }
func (l *stdLogger) Warnf(format string, args ...any)  { l.Printf("warn: "+format, args...) }

// Default is the package-wide logger used by callers that do not supply
// their own, writing to stderr the way the teacher's board bring-up code
// logs with the standard library.
var Default Logger = &stdLogger{log.New(os.Stderr, "enc28j60: ", log.LstdFlags)}

// discard is a Logger that drops everything, used by components under
// test that don't want log noise.
type discard struct{}

func (discard) Debugf(string, ...any) {}
func (discard) Infof(string, ...any)  {}
func (discard) Warnf(string, ...any)  {}

// Discard is a Logger that silently drops all messages.
var Discard Logger = discard{}
