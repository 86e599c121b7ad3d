package virtio

import (
	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/kpanic"
)

const pageSize = 4096

// descSize is the legacy 16-byte descriptor: 8-byte addr, 4-byte len,
// 2-byte flags, 2-byte next.
const descSize = 16

func availSize(queueSize uint16) uint32 {
	// flags(2) + idx(2) + ring[queueSize](2 each) + used_event(2)
	return 4 + 2*uint32(queueSize) + 2
}

func usedSize(queueSize uint16) uint32 {
	// flags(2) + idx(2) + elem[queueSize](8 each) + avail_event(2)
	return 4 + 8*uint32(queueSize) + 2
}

func align4(n uint32) uint32 { return (n + 3) &^ 3 }

// Completion is invoked once a request's descriptor chain is reaped
// off the used ring (spec.md §4.I "invoke the per-request completion
// outside the critical section").
type Completion func(head uint16, writtenLen uint32)

// Queue is one virtqueue: its descriptor table, available/used rings,
// free list, and pending completion callbacks.
type Queue struct {
	ops  cpu.Ops
	sink kpanic.Sink
	mem  Memory

	index uint16
	size  uint16

	virt  uintptr
	phys  uintptr
	pages uint32

	descBase  uintptr
	availBase uintptr
	usedBase  uintptr

	notifyAddr uintptr

	freeHead   uint16
	numFree    uint16
	numPending uint16

	lastSeenUsed uint16

	completions map[uint16]Completion
}

// SetupQueue allocates and lays out queue index's backing memory,
// threads the descriptor free list, programs the device's queue_desc/
// queue_avail/queue_used registers, and sets queue_enable. Matches
// spec.md §4.I step 5; the legacy desc+avail+pad+used layout mirrors
// virtio_gpu.go's virtioPCISetupQueue register sequence generalized to
// an arbitrary queue count.
func (d *Device) SetupQueue(index uint16) *Queue {
	d.mem.Write16(d.commonBase+regQueueSelect, index)
	size := d.mem.Read16(d.commonBase + regQueueSize)
	kpanic.Assert(d.ops, d.sink, size > 0, "virtio.SetupQueue: device reports zero queue size")

	descBytes := uint32(size) * descSize
	availBytes := availSize(size)
	usedOffset := align4(descBytes + availBytes)
	total := usedOffset + usedSize(size)
	pages := (total + pageSize - 1) / pageSize

	virt, phys := d.mm.AllocQueueMemory(pages)
	kpanic.Assert(d.ops, d.sink, virt != 0, "virtio.SetupQueue: queue memory allocation failed")

	q := &Queue{
		ops: d.ops, sink: d.sink, mem: d.mem,
		index: index, size: size,
		virt: virt, phys: phys, pages: pages,
		descBase:    virt,
		availBase:   virt + uintptr(descBytes),
		usedBase:    virt + uintptr(usedOffset),
		numFree:     size,
		completions: make(map[uint16]Completion),
	}
	q.notifyAddr = d.notifyBase + uintptr(d.mem.Read16(d.commonBase+regQueueNotifyOff))*uintptr(d.notifyMultiplier)

	for j := uint16(0); j < size-1; j++ {
		q.writeDescNext(j, j+1)
		q.writeDescFlags(j, DescNext)
	}
	q.writeDescFlags(size-1, 0)

	descPhys := phys
	availPhys := phys + uintptr(descBytes)
	usedPhys := phys + uintptr(usedOffset)

	d.mem.Write64(d.commonBase+regQueueDescLow, uint64(descPhys))
	d.mem.Write64(d.commonBase+regQueueAvailLow, uint64(availPhys))
	d.mem.Write64(d.commonBase+regQueueUsedLow, uint64(usedPhys))
	d.mem.Write16(d.commonBase+regQueueEnable, 1)

	if d.log != nil {
		d.log.Print("virtio: queue enabled")
	}

	d.queues = append(d.queues, q)
	return q
}

func (q *Queue) descAddr(j uint16) uintptr { return q.descBase + uintptr(j)*descSize }

func (q *Queue) writeDescAddr(j uint16, v uint64)  { q.mem.Write64(q.descAddr(j), v) }
func (q *Queue) writeDescLen(j uint16, v uint32)   { q.mem.Write32(q.descAddr(j)+8, v) }
func (q *Queue) writeDescFlags(j uint16, v uint16) { q.mem.Write16(q.descAddr(j)+12, v) }
func (q *Queue) writeDescNext(j uint16, v uint16)  { q.mem.Write16(q.descAddr(j)+14, v) }
func (q *Queue) readDescFlags(j uint16) uint16     { return q.mem.Read16(q.descAddr(j) + 12) }
func (q *Queue) readDescNext(j uint16) uint16      { return q.mem.Read16(q.descAddr(j) + 14) }

func (q *Queue) availFlagsAddr() uintptr   { return q.availBase }
func (q *Queue) availIdxAddr() uintptr     { return q.availBase + 2 }
func (q *Queue) availRingAddr(i uint16) uintptr {
	return q.availBase + 4 + uintptr(i%q.size)*2
}

func (q *Queue) usedIdxAddr() uintptr { return q.usedBase + 2 }
func (q *Queue) usedElemAddr(i uint16) uintptr {
	return q.usedBase + 4 + uintptr(i%q.size)*8
}

// Desc describes one caller-supplied buffer to chain into a request.
type Desc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
}

// AllocDescs pops count descriptors off the free list into out,
// chaining out[0]->out[1]->...->out[count-1] via Next/DescNext, and
// writes each descriptor's Addr/Len/Flags from descs. Fails atomically
// (no descriptors consumed) if fewer than count are free. Runs under
// its own IRQ-off critical section (spec.md §4.I).
func (q *Queue) AllocDescs(descs []Desc, out []uint16) bool {
	wasEnabled := cpu.SaveFlagsAndDisable(q.ops)
	defer cpu.RestoreFlags(q.ops, wasEnabled)

	count := len(descs)
	if uint16(count) > q.numFree {
		return false
	}

	cur := q.freeHead
	for i := 0; i < count; i++ {
		out[i] = cur
		cur = q.readDescNext(cur)
	}
	newFreeHead := cur

	for i := 0; i < count; i++ {
		flags := descs[i].Flags
		if i < count-1 {
			flags |= DescNext
			q.writeDescNext(out[i], out[i+1])
		}
		q.writeDescAddr(out[i], descs[i].Addr)
		q.writeDescLen(out[i], descs[i].Len)
		q.writeDescFlags(out[i], flags)
	}

	q.freeHead = newFreeHead
	q.numFree -= uint16(count)
	return true
}

// FreeChain walks headID's NEXT chain and prepends the whole chain
// back onto the free list in one O(chain length) pass, under its own
// IRQ-off critical section (spec.md §4.I).
func (q *Queue) FreeChain(headID uint16) {
	wasEnabled := cpu.SaveFlagsAndDisable(q.ops)
	defer cpu.RestoreFlags(q.ops, wasEnabled)

	id := headID
	count := uint16(1)
	for q.readDescFlags(id)&DescNext != 0 {
		id = q.readDescNext(id)
		count++
	}
	q.writeDescNext(id, q.freeHead)
	q.freeHead = headID
	q.numFree += count
}

// BatchAdd writes head's index into the next available-ring slot and
// increments the pending count, without publishing (spec.md §4.I).
func (q *Queue) BatchAdd(head uint16) {
	availIdx := q.mem.Read16(q.availIdxAddr())
	q.mem.Write16(q.availRingAddr(availIdx+q.numPending), head)
	q.numPending++
}

// BatchComplete publishes every descriptor BatchAdd queued since the
// last call: memory-barrier (a plain write ordering on x86, so no
// barrier instruction is issued), advance avail.idx, reset
// num_pending, and notify the device.
func (q *Queue) BatchComplete() {
	if q.numPending == 0 {
		return
	}
	availIdx := q.mem.Read16(q.availIdxAddr())
	q.mem.Write16(q.availIdxAddr(), availIdx+q.numPending)
	q.numPending = 0
	q.mem.Write16(q.notifyAddr, q.index)
}

// RegisterCompletion installs fn to run when headID's chain is reaped
// off the used ring.
func (q *Queue) RegisterCompletion(headID uint16, fn Completion) {
	q.completions[headID] = fn
}

// NumFree reports how many descriptors are currently on the free
// list, for diagnostics and for front-end tests asserting a chain was
// fully reclaimed after completion.
func (q *Queue) NumFree() uint16 { return q.numFree }

// UsedRingSlotAddr returns the address of the used ring's ith slot.
// Exported so virtioblk/virtiogpu's tests can simulate a device
// publishing a completion without reaching into Queue's layout.
func (q *Queue) UsedRingSlotAddr(i uint16) uintptr { return q.usedElemAddr(i) }

// UsedIdxAddr returns the address of the used ring's idx field, for
// the same reason as UsedRingSlotAddr.
func (q *Queue) UsedIdxAddr() uintptr { return q.usedIdxAddr() }

// reapedEntry is one used-ring snapshot taken under the critical
// section, freed and completed outside it.
type reapedEntry struct {
	id  uint16
	len uint32
}

// Reap drains every newly-used descriptor chain: snapshots
// {id, len} pairs under IRQ-off (advancing last_seen_used), then
// outside the critical section frees each chain and invokes its
// completion, per spec.md §4.I's reaping description.
func (q *Queue) Reap() {
	var drained []reapedEntry

	wasEnabled := cpu.SaveFlagsAndDisable(q.ops)
	usedIdx := q.mem.Read16(q.usedIdxAddr())
	for q.lastSeenUsed != usedIdx {
		elemAddr := q.usedElemAddr(q.lastSeenUsed)
		id := uint16(q.mem.Read32(elemAddr))
		length := q.mem.Read32(elemAddr + 4)
		drained = append(drained, reapedEntry{id: id, len: length})
		q.lastSeenUsed++
	}
	cpu.RestoreFlags(q.ops, wasEnabled)

	for _, e := range drained {
		fn := q.completions[e.id]
		delete(q.completions, e.id)
		q.FreeChain(e.id)
		if fn != nil {
			fn(e.id, e.len)
		}
	}
}
