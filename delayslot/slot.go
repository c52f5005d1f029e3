// Package delayslot implements the per-device pose delay slot table used to
// retroactively correct the fusion filter from late visual observations.
package delayslot

import "github.com/RSDNTWK/OpenHMD/vision"

// NumSlots is the number of concurrently outstanding camera exposures a
// device can track corrections for.
const NumSlots = 3

// MaxReports bounds the number of pose reports a single slot can
// accumulate — one per sensor that claimed it.
const MaxReports = 4

// PoseReport is a single vision-pipeline observation recorded against a
// delay slot, whether or not it was ultimately fused.
type PoseReport struct {
	Score   vision.Score
	Fused   bool
	Source  int
}

// Slot is one entry of a device's delay slot table.
type Slot struct {
	id            int
	valid         bool
	useCount      int
	deviceTimeNs  uint64
	reports       [MaxReports]PoseReport
	nUsedReports  int
	nReports      int
}

// ID returns the slot's fixed index in its owning table.
func (s *Slot) ID() int { return s.id }

// Valid reports whether the slot currently anchors an exposure.
func (s *Slot) Valid() bool { return s.valid }

// UseCount returns the number of outstanding claims on the slot.
func (s *Slot) UseCount() int { return s.useCount }

// DeviceTimeNs returns the device-clock time the slot was allocated for.
func (s *Slot) DeviceTimeNs() uint64 { return s.deviceTimeNs }

// NUsedReports returns how many reports passed to RecordReport were actually
// fused into the filter, including fused reports beyond the MaxReports that
// are stored.
func (s *Slot) NUsedReports() int { return s.nUsedReports }

// Table is the fixed 3-slot array belonging to one tracked device.
type Table struct {
	slots  [NumSlots]Slot
	cursor int
}

// NewTable returns a table with all slots free.
func NewTable() *Table {
	t := &Table{}
	for i := range t.slots {
		t.slots[i].id = i
	}
	return t
}

// Allocate finds a slot for a new exposure at deviceTimeNs, following the
// same two-step policy as the original: first look for a free slot
// (use_count == 0) via the round-robin cursor, then fall back to reclaiming
// any valid slot that has already delivered a used pose report. Returns nil
// if neither succeeds.
func (t *Table) Allocate(deviceTimeNs uint64) *Slot {
	slot := t.findFree()
	if slot == nil {
		slot = t.reclaim()
	}
	if slot == nil {
		return nil
	}
	slot.valid = true
	slot.useCount = 0
	slot.deviceTimeNs = deviceTimeNs
	slot.nUsedReports = 0
	slot.nReports = 0
	return slot
}

func (t *Table) findFree() *Slot {
	for i := 0; i < NumSlots; i++ {
		slotNo := t.cursor
		slot := &t.slots[slotNo]
		t.cursor = (slotNo + 1) % NumSlots
		if slot.useCount == 0 {
			return slot
		}
	}
	return nil
}

func (t *Table) reclaim() *Slot {
	for i := range t.slots {
		slot := &t.slots[i]
		if slot.valid && slot.nUsedReports > 0 {
			return slot
		}
	}
	return nil
}

// Matching returns the slot identified by fusionSlot iff it is valid and
// still anchored to deviceTimeNs — i.e. it has not since been reclaimed for
// a different exposure.
func (t *Table) Matching(fusionSlot int, deviceTimeNs uint64) *Slot {
	if fusionSlot < 0 || fusionSlot >= NumSlots {
		return nil
	}
	slot := &t.slots[fusionSlot]
	if slot.valid && slot.deviceTimeNs == deviceTimeNs {
		return slot
	}
	return nil
}

// Claim records that a frame has started against slot, incrementing its use
// count.
func (s *Slot) Claim() {
	s.useCount++
}

// Release decrements the slot's use count. It reports whether the slot
// transitioned from in-use to free as a result — the caller should tell the
// filter to release the slot's constraint exactly once, on that
// transition. Calling Release on an already-free slot is a no-op.
func (s *Slot) Release() bool {
	if s.useCount == 0 {
		return false
	}
	s.useCount--
	if s.useCount == 0 && s.valid {
		s.valid = false
		return true
	}
	return false
}

// RecordReport appends a pose report to the slot, up to MaxReports. fused
// indicates whether the report was actually integrated into the filter;
// recording still happens even when the report was rejected as stale.
func (s *Slot) RecordReport(r PoseReport) {
	if s.nReports < MaxReports {
		s.reports[s.nReports] = r
		s.nReports++
	}
	if r.Fused {
		s.nUsedReports++
	}
}

// Slots exposes the table's backing array for iteration (e.g. by tests or
// by the tracker's teardown path); callers must not retain the returned
// pointers past the table's lifetime.
func (t *Table) Slots() []*Slot {
	out := make([]*Slot, NumSlots)
	for i := range t.slots {
		out[i] = &t.slots[i]
	}
	return out
}
