// Package serial drives the COM1 UART (spec.md §6 External Interfaces:
// "COM1: 38400 8N1, FIFO enabled (14-byte threshold)"). It mirrors the
// console so a hang at a fatal stop is observable over the wire
// (spec.md §7's "a hang is observable through the COM1 channel").
// Grounded directly on original_source/src/kernel/comport.c's register
// layout and initialization sequence.
package serial

import "github.com/dajoh/futura/internal/cpu"

const (
	com1Base = 0x3F8

	portData        = com1Base + 0 // DLAB=0: RX/TX buffer
	portIntEnable   = com1Base + 1
	portDivisorLSB  = com1Base + 0 // DLAB=1
	portDivisorMSB  = com1Base + 1 // DLAB=1
	portIntIDFIFO   = com1Base + 2
	portLineCtl     = com1Base + 3
	portModemCtl    = com1Base + 4
	portLineStatus  = com1Base + 5

	lineStatusDataReady  = 0x01
	lineStatusCanWrite   = 0x20
	lineCtlDLAB          = 0x80
	lineCtl8N1           = 0x03
	fifoEnableClear14    = 0xC7
	modemCtlIRQsRTSDSR   = 0x0B
	divisor38400Baud     = 0x03
)

// Port is a COM1 UART bound to a cpu.Ops implementation.
type Port struct {
	ops cpu.Ops
}

// New initializes COM1 to 38400 8N1 with FIFO enabled at a 14-byte
// threshold, exactly as original_source/src/kernel/comport.c does.
func New(ops cpu.Ops) *Port {
	ops.OutB(portIntEnable, 0x00)
	ops.OutB(portLineCtl, lineCtlDLAB)
	ops.OutB(portDivisorLSB, divisor38400Baud)
	ops.OutB(portDivisorMSB, 0x00)
	ops.OutB(portLineCtl, lineCtl8N1)
	ops.OutB(portIntIDFIFO, fifoEnableClear14)
	ops.OutB(portModemCtl, modemCtlIRQsRTSDSR)
	return &Port{ops: ops}
}

func (p *Port) canWrite() bool { return p.ops.InB(portLineStatus)&lineStatusCanWrite != 0 }
func (p *Port) hasData() bool  { return p.ops.InB(portLineStatus)&lineStatusDataReady != 0 }

// WriteByte blocks until the transmit holding register is free, then
// writes b.
func (p *Port) WriteByte(b byte) {
	for !p.canWrite() {
		p.ops.Nop()
	}
	p.ops.OutB(portData, b)
}

// WriteString writes every byte of s in order.
func (p *Port) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		p.WriteByte(s[i])
	}
}

// ReadByte blocks until a byte is available and returns it.
func (p *Port) ReadByte() byte {
	for !p.hasData() {
		p.ops.Nop()
	}
	return p.ops.InB(portData)
}

// HasData reports whether a byte is waiting without blocking.
func (p *Port) HasData() bool { return p.hasData() }
