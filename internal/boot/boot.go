// Package boot implements spec component K: the staged kernel
// bring-up sequence, ported stage-for-stage from
// original_source/src/kernel/kmain.c's kinit — 8259 PIC, PIT,
// physical and virtual memory, kernel heap, interrupt dispatcher, ACPI
// tables, local APIC, I/O APIC, scheduler bootstrap, IRQ enable, the
// ACPI-driven PIC-to-APIC handoff, then the worker tasks and the idle
// loop. The console/serial sinks arrive ready-made in Config.Log. Every other package in this module is a component kinit
// wires together; this is the only one that imports all of them.
package boot

import (
	"unsafe"

	"github.com/dajoh/futura/internal/acpi"
	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/intctl"
	"github.com/dajoh/futura/internal/ioapic"
	"github.com/dajoh/futura/internal/kheap"
	"github.com/dajoh/futura/internal/klog"
	"github.com/dajoh/futura/internal/lapic"
	"github.com/dajoh/futura/internal/pcicfg"
	"github.com/dajoh/futura/internal/pic8259"
	"github.com/dajoh/futura/internal/pmm"
	"github.com/dajoh/futura/internal/sched"
	"github.com/dajoh/futura/internal/trap"
	"github.com/dajoh/futura/internal/virtioblk"
	"github.com/dajoh/futura/internal/virtiogpu"
	"github.com/dajoh/futura/internal/vmm"
)

// timerHz is the 8259-mode PIT rate, matching kmain.c's
// PitInitialize(100) and the 100Hz spec.md §4.G already fixes the
// APIC timer at.
const timerHz = 100

// kernelUnmaskedIRQs leaves only the timer and keyboard live on the
// 8259 pair, per spec.md §4.E.
const kernelUnmaskedIRQs = 1<<0 | 1<<1

// pageDirEntries mirrors vmm's own unexported pdeCount: a 32-bit x86
// page directory always has exactly 1024 entries, so the array type
// [pageDirEntries]uintptr NewX86PageTable wants is identical to
// vmm's [pdeCount]uintptr regardless of which package names it.
const pageDirEntries = 1024

// VirtioPCI names a virtio-PCI function a boot sequence should try to
// bring up once the PCI config-space accessor exists.
type VirtioPCI struct {
	Bus, Slot, Fn uint8
}

// Config carries every boot-time decision kinit itself doesn't hardcode.
type Config struct {
	// Ops and Log are the two collaborators bringUp cannot construct
	// for itself: Ops is cpu.Hardware in production and cpu.Fake in
	// tests, Log is wired to whatever sinks cmd/kernel/main.go set up
	// (serial, console, or both).
	Ops cpu.Ops
	Log *klog.Logger

	KernelName     string
	KernelImageEnd uintptr
	PhysFrames     uint32
	HeapPages      uint32

	// ACPI and ACPIEval back the ACPI table-lookup and AML
	// object-evaluator boundary acpi.TableSource/ObjectEvaluator
	// describe; production wires both to ACPICA outside this module.
	// A nil ACPI leaves the kernel in 8259 mode permanently.
	ACPI     acpi.TableSource
	ACPIEval acpi.ObjectEvaluator

	// PCI is the configuration-space accessor virtio device discovery
	// walks; nil skips virtio bring-up entirely.
	PCI pcicfg.Reader

	VirtioBlk *VirtioPCI
	VirtioGPU *VirtioPCI

	// GPUOverlay draws the one-line tick/task/fault HUD over scanout
	// 0 once VirtioGPU has brought up a display; FontTTF supplies
	// real vector-font bytes, nil uses the embedded bitmap font.
	GPUOverlay bool
	FontTTF    []byte
}

// Kernel is everything kinit built, handed back so callers (tests, or
// the worker tasks kinit itself spawns) can reach it.
type Kernel struct {
	Log    *klog.Logger
	Trap   *trap.Dispatcher
	Sched  *sched.Scheduler
	Phys   *pmm.Allocator
	AS     *vmm.AddressSpace
	Heap   *kheap.Heap
	PIC    *pic8259.Controller
	LAPIC  *lapic.Controller
	IOAPIC *ioapic.Controller

	BlkDevice *virtioblk.Device
	GPUDevice *virtiogpu.Device
	Overlay   *virtiogpu.Overlay
}

// bringUp runs every stage of kinit and returns the assembled Kernel,
// or ok=false if magic/mmap validation failed the way
// kmain.c's own early-return does (logged, not fatal — there is
// nothing this kernel can safely do past that point, but it isn't a
// programming-invariant failure either, so it doesn't go through
// kpanic). Split out from Kinit so it can be exercised without running
// the trailing idle loop.
func bringUp(magic uint32, info *MultibootInfo, cfg Config) (*Kernel, bool) {
	ops, log := cfg.Ops, cfg.Log
	if magic != multibootMagic {
		log.Print("kinit: bad multiboot magic\r\n")
		return nil, false
	}
	if info == nil || info.Flags&flagMemMap == 0 {
		log.Print("kinit: no multiboot memory map\r\n")
		return nil, false
	}

	sink := log

	pic := pic8259.New(ops)
	pic.Remap(intctl.Pic8259VectorBase, kernelUnmaskedIRQs)
	programPIT(ops, timerHz)

	k := &Kernel{Log: log, PIC: pic}
	activeKernel = k

	k.Phys = pmm.New(ops, sink, cfg.PhysFrames)
	k.Phys.LoadE820(ParseE820(physMemory{}, info), cfg.KernelImageEnd)

	dirPhys := k.Phys.Alloc(1, pmm.TagPageDir, "kernel page directory")
	var tables [pageDirEntries]uintptr
	pt := vmm.NewX86PageTable(ops, vmm.DirectMemory{}, dirPhys, tables)
	k.AS = vmm.New(ops, sink, pt, 0) // 0 wraps to the full 4GiB kernel span
	k.AS.SetActive(true)
	ops.WriteCR3(pt.DirPhys())

	pool := &pmmPhysPool{phys: k.Phys, as: k.AS}

	heapPages := cfg.HeapPages
	if heapPages == 0 {
		heapPages = 256 // 1MiB default kernel heap
	}
	heapPhys := k.Phys.Alloc(heapPages, pmm.TagHeap, "kernel heap")
	heapVirt := k.AS.Alloc(heapPhys, heapPages, vmm.ProtWrite, "heap", "kernel heap")
	k.AS.SetBeginAlloc(heapVirt + uintptr(heapPages)*pmm.PageSize)
	k.Heap = kheap.New(ops, sink, kheap.NewMappedArena(heapVirt, heapPages*pmm.PageSize), false)

	pf := &deferredFaultMapper{phys: k.Phys, as: k.AS}
	k.Trap = trap.New(ops, sink, log, pic, trapAPICAdapter{}, trapSchedAdapter{}, pf)

	if cfg.ACPI != nil {
		if madt, ok := cfg.ACPI.MADT(); ok {
			lapicVirt := k.AS.Alloc(madt.LocalAPICAddress&^(pmm.PageSize-1), 1, vmm.ProtWrite|vmm.ProtNoCache, "mmio", "local apic")
			if lapicVirt != 0 {
				k.LAPIC = lapic.New(ops, lapic.NewMMIORegisters(lapicVirt), intctl.APICTimerVector)
				pic.Disable()
				k.LAPIC.Enable()
				k.LAPIC.Calibrate(func() { stallMillis(ops, 500) })
			}

			for _, ent := range madt.IOAPICs {
				ioVirt := k.AS.Alloc(ent.Address&^(pmm.PageSize-1), 1, vmm.ProtWrite|vmm.ProtNoCache, "mmio", "ioapic")
				if ioVirt == 0 {
					continue
				}
				io := ioapic.New(ioapic.NewMMIORegisters(ioVirt))
				for irq := uint8(0); irq < 16; irq++ {
					gsi := ent.GlobalIRQBase + uint32(irq)
					if r, ok := ioapic.Resolve(madt, gsi); ok {
						io.Program(r)
					}
				}
				k.IOAPIC = io
			}
		}
	}

	k.Sched = sched.New(ops, sink, log, &kernelStacks{phys: k.Phys, as: k.AS}, sched.HardwareSwitcher{}, k.Trap, cfg.KernelName)

	ops.EnableInterrupts()

	if cfg.ACPIEval != nil && k.LAPIC != nil && k.IOAPIC != nil {
		if err := cfg.ACPIEval.EvaluateInteger(`\_PIC`, intctl.ModeAPIC.ACPIValue()); err == nil {
			k.Trap.SetMode(intctl.ModeAPIC)
		}
	}

	if cfg.PCI != nil {
		if cfg.VirtioBlk != nil {
			if dev, ok := discoverVirtioDevice(ops, sink, log, cfg.PCI, k.AS, pool, *cfg.VirtioBlk); ok {
				blk := virtioblk.New(ops, sink, physMemory{}, pool, pool, k.Sched, dev)
				blk.Start()
				k.BlkDevice = blk
			}
		}
		if cfg.VirtioGPU != nil {
			if dev, ok := discoverVirtioDevice(ops, sink, log, cfg.PCI, k.AS, pool, *cfg.VirtioGPU); ok {
				gpu := virtiogpu.New(ops, sink, physMemory{}, pool, k.Sched, log, dev)
				gpu.Start()
				k.GPUDevice = gpu
			}
		}
	}

	if cfg.GPUOverlay && k.GPUDevice != nil {
		if fb, w, h, ok := setupPrimaryScanout(k.GPUDevice, pool); ok {
			if ov, err := virtiogpu.NewOverlay(k.GPUDevice, 1, fb, int(w), int(h), cfg.FontTTF); err == nil {
				k.Overlay = ov
			}
		}
	}

	k.Sched.CreateTask("kmonitor", 0, monitorTaskFn, unsafe.Pointer(k))

	return k, true
}

// Kinit is the kernel's single entry point once the assembly
// bootstrap has a stack and has jumped into Go code: it runs every
// bring-up stage and, on success, never returns — the scheduler's
// worker tasks and interrupt handlers do the rest of the kernel's
// work from here, and this goroutine becomes the idle task.
func Kinit(magic uint32, info *MultibootInfo, cfg Config) {
	k, ok := bringUp(magic, info, cfg)
	if !ok {
		cfg.Ops.HaltForever()
		return
	}
	_ = k
	for {
		cfg.Ops.Hlt()
	}
}

// stallMillis busy-waits approximately ms milliseconds using the
// TSC, the same calibration primitive original_source/src/kernel/
// apic.c's 500ms ApicInitialize stall uses, adapted from a fixed PIT
// gate to a portable Rdtsc poll since this kernel doesn't expose a
// second independently-clocked wait source.
func stallMillis(ops cpu.Ops, ms uint32) {
	// A freshly booted CPU's TSC rate isn't known yet, so this uses
	// a fixed, conservatively low assumed rate (1GHz) rather than
	// trying to bootstrap a second calibration just to calibrate the
	// first; Calibrate's own rounding to the nearest 100kHz absorbs
	// the resulting error.
	const assumedHz = 1_000_000_000
	target := ops.Rdtsc() + uint64(assumedHz/1000)*uint64(ms)
	for ops.Rdtsc() < target {
		ops.Nop()
	}
}

// monitorTaskFn is kmonitor: a periodic diagnostic task, ported in
// spirit from original_source/src/kernel/kmain.c's kmonitor (its exact
// body lives outside kmain.c's own file and isn't part of the
// retrieved sources, so this keeps kmonitor's name and cadence but
// gives it the one diagnostic this kernel actually has wired end to
// end: the debug HUD).
func monitorTaskFn(ctx unsafe.Pointer) uint32 {
	k := (*Kernel)(ctx)
	for {
		k.Sched.Sleep(1000)
		if k.Overlay != nil {
			k.Overlay.Draw(k.Trap.Ticks(), 1, 0)
		}
	}
}

// trapAPICAdapter and trapSchedAdapter break what would otherwise be
// an import cycle (trap needs a PICController/APICController/
// Scheduler shaped exactly like lapic.Controller/sched.Scheduler, but
// this package is the only one allowed to know both packages' full
// types) — they're filled in with the real lapic/sched instances once
// those exist, via the package-level activeKernel indirection below.
type trapAPICAdapter struct{}

func (trapAPICAdapter) SendEOI() {
	if activeKernel != nil && activeKernel.LAPIC != nil {
		activeKernel.LAPIC.SendEOI()
	}
}

type trapSchedAdapter struct{}

func (trapSchedAdapter) HasCurrentTask() bool {
	return activeKernel != nil && activeKernel.Sched != nil && activeKernel.Sched.HasCurrentTask()
}

func (trapSchedAdapter) Yield() {
	if activeKernel != nil && activeKernel.Sched != nil {
		activeKernel.Sched.Yield()
	}
}

// activeKernel lets trapAPICAdapter/trapSchedAdapter reach the
// Scheduler/Controller that don't exist yet at the point trap.New
// must be called (trap.New wants its collaborators up front, but
// sched.New wants a TickSource that is the Dispatcher itself — the
// two constructors are mutually dependent). Set once, as soon as
// bringUp allocates the Kernel struct; LAPIC/Sched fill in on the same
// pointer as later stages run.
var activeKernel *Kernel
