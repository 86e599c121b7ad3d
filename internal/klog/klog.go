// Package klog is the kernel's diagnostic sink: hex/string formatting
// helpers that need no allocator (safe to call from interrupt
// context, before the heap exists, and on the fatal path), fanned out
// to every registered sink (COM1, the console). Grounded on
// mazboot/golang/main/kernel.go's uartPutsBytes/printHex64/printHex32/
// printHex8 family — same per-nibble loop, same refusal to use fmt.
package klog

import "github.com/dajoh/futura/internal/console"

// Sink receives raw bytes. *serial.Port satisfies this directly
// (WriteString has the right shape already); console.Writer is
// adapted via ConsoleSink.
type Sink interface {
	WriteString(s string)
}

// ConsoleSink adapts a console.Writer to Sink at a fixed style.
type ConsoleSink struct {
	W     console.Writer
	Style console.Style
}

func (c ConsoleSink) WriteString(s string) { c.W.WriteStyled(c.Style, s) }

// Logger fans every write out to all of its sinks.
type Logger struct {
	sinks []Sink
}

// NewLogger builds a Logger over the given sinks.
func NewLogger(sinks ...Sink) *Logger {
	return &Logger{sinks: sinks}
}

func (l *Logger) writeAll(s string) {
	for _, sink := range l.sinks {
		sink.WriteString(s)
	}
}

// Print writes s to every sink, unstyled.
func (l *Logger) Print(s string) { l.writeAll(s) }

// Hex64 formats v as 16 hex digits.
func Hex64(v uint64) string { return hexDigits(v, 16) }

// Hex32 formats v as 8 hex digits.
func Hex32(v uint32) string { return hexDigits(uint64(v), 8) }

// Hex8 formats v as 2 hex digits.
func Hex8(v uint8) string { return hexDigits(uint64(v), 2) }

func hexDigits(v uint64, digits int) string {
	const table = "0123456789ABCDEF"
	buf := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		buf[i] = table[v&0xF]
		v >>= 4
	}
	return string(buf)
}

// Fatal writes a red-styled header line followed by detail. It does
// not halt: Logger is the kpanic.Sink, and kpanic.Assert/Fatal call
// HaltForever after this returns, completing the terminal path
// spec.md §7/§8 describes: "a red header line identifying the fault
// class, a register dump ... and a hang."
func (l *Logger) Fatal(header string, detail string) {
	l.writeAllStyled(console.StyleFatal, header+"\r\n")
	if detail != "" {
		l.writeAllStyled(console.StyleNormal, detail+"\r\n")
	}
}

func (l *Logger) writeAllStyled(style console.Style, s string) {
	for _, sink := range l.sinks {
		if cs, ok := sink.(ConsoleSink); ok {
			cs.W.WriteStyled(style, s)
			continue
		}
		sink.WriteString(s)
	}
}
