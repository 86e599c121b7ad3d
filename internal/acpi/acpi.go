// Package acpi is the external-collaborator boundary spec.md draws
// around ACPI integration: "assume a table lookup API and an
// object-evaluator." Production wires TableSource/ObjectEvaluator to
// ACPICA; this package only owns the data model the rest of the
// kernel reads out of that boundary — the MADT fields ioapic needs
// and the \_PIC handoff boot performs once ACPI is live.
package acpi

// TableSource is the ACPI subsystem's table lookup capability,
// normally backed by ACPICA's AcpiGetTable.
type TableSource interface {
	MADT() (*MADT, bool)
}

// ObjectEvaluator is the ACPI subsystem's AML object-evaluator
// capability, used once at the PIC-mode handoff to call the
// firmware's \_PIC method (spec.md §4.F "ACPI transition").
type ObjectEvaluator interface {
	EvaluateInteger(path string, arg int64) error
}

// Polarity and Trigger mirror the two two-bit fields packed into a
// MADT Interrupt Source Override's flags word (ACPI spec, MPS INTI
// flags).
type Polarity int

const (
	PolarityBusDefault Polarity = iota
	PolarityActiveHigh
	PolarityActiveLow
)

type Trigger int

const (
	TriggerBusDefault Trigger = iota
	TriggerEdge
	TriggerLevel
)

// IOAPICEntry is one MADT "I/O APIC" subtable.
type IOAPICEntry struct {
	Address       uintptr
	GlobalIRQBase uint32
}

// InterruptOverride is one MADT "Interrupt Source Override" subtable:
// an ISA bus IRQ remapped to a different GSI and/or polarity/trigger.
// Ported from original_source/src/kernel/ioapic.c's
// ACPI_MADT_INTERRUPT_OVERRIDE walk.
type InterruptOverride struct {
	Bus       uint8
	SourceIRQ uint8
	GlobalIRQ uint32
	Polarity  Polarity
	Trigger   Trigger
}

// MADT is the Multiple APIC Description Table fields this kernel
// needs out of the firmware tables.
type MADT struct {
	LocalAPICAddress uintptr
	IOAPICs          []IOAPICEntry
	Overrides        []InterruptOverride
}
