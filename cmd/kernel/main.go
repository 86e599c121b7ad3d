// Command kernel is the linker's entry symbol. It exists only to give
// the assembly bootstrap (boot_amd64.s, not part of this module — the
// same external-collaborator boundary cpu.Hardware's asm functions
// cross) something to jump to once a stack exists; every real
// decision lives in internal/boot so it can be tested without a
// bootloader.
package main

import (
	"github.com/dajoh/futura/internal/boot"
	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/klog"
	"github.com/dajoh/futura/internal/pcicfg"
	"github.com/dajoh/futura/internal/serial"
)

// defaultPhysFrames covers 4GiB of frame bookkeeping; bringUp only
// marks frames the E820 map reports available, so sizing it generously
// costs bitmap bytes, not correctness.
const defaultPhysFrames = (4 << 30) / 4096

// defaultHeapPages is bringUp's own fallback when Config.HeapPages is
// left zero; named here too so main.go's intent reads the same as
// boot's.
const defaultHeapPages = 256

func main() {
	ops := cpu.Hardware{}
	log := klog.NewLogger(serial.New(ops))

	info := boot.ParseMultibootInfo(multibootInfoAddr)

	cfg := boot.Config{
		Ops:            ops,
		Log:            log,
		KernelName:     "futura",
		KernelImageEnd: kernelImageEnd,
		PhysFrames:     defaultPhysFrames,
		HeapPages:      defaultHeapPages,

		// ACPI/ACPIEval are left zero: no ACPICA binding lives in this
		// module (internal/acpi is the evaluator boundary only), so
		// the kernel stays in 8259 mode until one is wired in.

		// pcicfg.ConfigSpace is real port-I/O, not a boundary stub,
		// so config-space reads work; VirtioBlk/VirtioGPU stay nil
		// because nothing in this module enumerates the bus to find
		// their bus/slot/fn automatically yet.
		PCI: pcicfg.New(ops),
	}

	boot.Kinit(multibootMagic, info, cfg)
}

// multibootMagic, multibootInfoAddr and kernelImageEnd are populated
// by boot_amd64.s before jumping here: EAX and EBX at kernel entry,
// and the linker-provided end-of-image symbol, respectively. There
// are no Go initializers for these, the same DATA/GLOBL idiom
// cpu.Hardware's asm* functions use for code instead of data.
var multibootMagic uint32
var multibootInfoAddr uintptr
var kernelImageEnd uintptr
