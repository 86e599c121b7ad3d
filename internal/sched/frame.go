package sched

import (
	"encoding/binary"
	"reflect"
	"unsafe"
)

// taskTrampoline never runs as Go code. Its address is what
// InitialFrame's EntryIP slot records, standing in for
// SchTaskFnWrapper's role as the first code address a fresh task
// resumes into; a production Switcher defines the real trampoline in
// assembly and ignores this declaration. It exists so the byte layout
// this package produces has a representative, non-zero entry address.
func taskTrampoline() {}

// InitialFrame is the fixed 8-word layout CreateTask seeds onto a
// fresh task's stack, so the first SwitchTo into it resumes inside the
// task-wrapper trampoline (spec.md §9: "{ebp, edi, esi, ebx, entry_ip,
// return_ip, fn, ctx}"), ported word-for-word from SchCreateTask's
// stack-fill block.
type InitialFrame struct {
	EBP, EDI, ESI, EBX uint32
	EntryIP            uint32
	ReturnIP           uint32
	FnAddr             uint32
	CtxAddr            uint32
}

// Sentinel register values SchCreateTask writes for the callee-saved
// slots a fresh task never actually restores from (they're garbage
// until the trampoline's own prologue overwrites them) and for the
// wrapper's own fabricated return address.
const (
	sentinelEBP      = 0xDEAD0001
	sentinelEDI      = 0xDEAD0002
	sentinelESI      = 0xDEAD0003
	sentinelEBX      = 0xDEAD0004
	sentinelReturnIP = 0xDEAD0005
)

func newInitialFrame(fn Fn, ctx unsafe.Pointer) InitialFrame {
	return InitialFrame{
		EBP:      sentinelEBP,
		EDI:      sentinelEDI,
		ESI:      sentinelESI,
		EBX:      sentinelEBX,
		EntryIP:  uint32(reflect.ValueOf(taskTrampoline).Pointer()),
		ReturnIP: sentinelReturnIP,
		FnAddr:   uint32(reflect.ValueOf(fn).Pointer()),
		CtxAddr:  uint32(uintptr(ctx)),
	}
}

// Bytes lays the frame out little-endian, one word per 4 bytes, in
// the order CreateTask's stack layout expects.
func (f InitialFrame) Bytes() []byte {
	words := [8]uint32{f.EBP, f.EDI, f.ESI, f.EBX, f.EntryIP, f.ReturnIP, f.FnAddr, f.CtxAddr}
	buf := make([]byte, 32)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}
