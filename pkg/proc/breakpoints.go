package proc

import (
	"errors"
	"fmt"

	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/patmos-dbg/rspagent/pkg/logflags"
)

// DefaultBreakpointCapacity is the number of breakpoints remembered when
// no capacity is configured.
const DefaultBreakpointCapacity = 50

// ErrTableFull is returned by Insert in strict mode when every slot of the
// breakpoint table is in use.
var ErrTableFull = errors.New("breakpoint table full")

// Breakpoint is a patched instruction slot.
type Breakpoint struct {
	Addr         uint32 // Address the host asked for.
	PatchAddr    uint32 // Bundle aligned address that holds the trap.
	OriginalData uint32 // Word replaced by the trap instruction.
}

func (bp *Breakpoint) String() string {
	return fmt.Sprintf("Breakpoint at %#08x (patched %#08x, original %08x)", bp.Addr, bp.PatchAddr, bp.OriginalData)
}

// NoBreakpointError is returned when trying to clear a breakpoint at an
// address that has no recorded original instruction.
type NoBreakpointError struct {
	Addr uint32
}

func (nbp NoBreakpointError) Error() string {
	return fmt.Sprintf("no breakpoint at %#08x", nbp.Addr)
}

// BreakpointsConfig controls the size and overflow behaviour of the
// breakpoint table.
type BreakpointsConfig struct {
	// Capacity is the number of breakpoints remembered, the oldest record
	// is dropped when a new one doesn't fit.
	Capacity int
	// Strict makes Insert fail with ErrTableFull instead of dropping the
	// oldest record.
	Strict bool
}

// Breakpoints patches trap instructions into code and remembers what they
// replaced. Records are keyed by the address requested by the host.
// Records are only ever added when absent and looked up with Peek, so the
// LRU order is insertion order and the oldest breakpoint is the one that
// gets evicted.
type Breakpoints struct {
	mem      Patcher
	table    *simplelru.LRU
	capacity int
	strict   bool
	evicted  int

	log logflags.Logger
}

// NewBreakpoints returns an empty breakpoint table patching through mem.
func NewBreakpoints(mem Patcher, cfg BreakpointsConfig) (*Breakpoints, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultBreakpointCapacity
	}
	table, err := simplelru.NewLRU(cfg.Capacity, nil)
	if err != nil {
		return nil, err
	}
	return &Breakpoints{
		mem:      mem,
		table:    table,
		capacity: cfg.Capacity,
		strict:   cfg.Strict,
		log:      logflags.BreakpointsLogger(),
	}, nil
}

// Resolve walks forward from addr until it reaches an instruction slot
// that is not inside a two slot bundle.
func (b *Breakpoints) Resolve(addr uint32) (uint32, error) {
	for {
		word, err := b.mem.ReadWord(addr)
		if err != nil {
			return 0, err
		}
		if bundleStart(word) {
			addr += 2 * WordSize
			continue
		}
		// a slot with nothing readable before it can't be inside a bundle
		if addr >= WordSize {
			if prev, err := b.mem.ReadWord(addr - WordSize); err == nil && bundleStart(prev) {
				addr += WordSize
				continue
			}
		}
		return addr, nil
	}
}

// Insert patches a trap instruction at the bundle boundary resolved from
// addr. Inserting twice at the same address keeps the first original word,
// and so does inserting at another address that resolves to a slot an
// existing breakpoint already patched.
func (b *Breakpoints) Insert(addr uint32) (*Breakpoint, error) {
	patchAddr, err := b.Resolve(addr)
	if err != nil {
		return nil, err
	}

	_, exists := b.table.Peek(addr)
	full := !exists && b.table.Len() >= b.capacity
	if full && b.strict {
		return nil, ErrTableFull
	}

	orig, err := b.mem.Patch(patchAddr, TrapInstruction)
	if err != nil {
		return nil, err
	}
	if v, ok := b.table.Peek(addr); ok {
		bp := v.(*Breakpoint)
		b.log.Debugf("re-armed %s", bp)
		return bp, nil
	}
	if other := b.patching(patchAddr, addr); other != nil {
		orig = other.OriginalData
	}
	if full {
		if _, oldest, ok := b.table.GetOldest(); ok {
			b.evicted++
			b.log.Warnf("breakpoint table full, forgetting %s", oldest.(*Breakpoint))
		}
	}
	bp := &Breakpoint{Addr: addr, PatchAddr: patchAddr, OriginalData: orig}
	b.table.Add(addr, bp)
	b.log.Debugf("inserted %s", bp)
	return bp, nil
}

// Remove restores the original instruction of the breakpoint requested at
// addr. When nothing was recorded for addr memory is left untouched and a
// NoBreakpointError is returned. The trap stays in place while another
// breakpoint still patches the same slot.
func (b *Breakpoints) Remove(addr uint32) (*Breakpoint, error) {
	patchAddr, err := b.Resolve(addr)
	if err != nil {
		return nil, err
	}
	v, ok := b.table.Peek(addr)
	if !ok {
		return nil, NoBreakpointError{Addr: addr}
	}
	bp := v.(*Breakpoint)
	if patchAddr != bp.PatchAddr {
		b.log.Warnf("%s resolves to %#08x now", bp, patchAddr)
	}
	if other := b.patching(patchAddr, addr); other != nil {
		b.table.Remove(addr)
		b.log.Debugf("removed %s, slot still used by %s", bp, other)
		return bp, nil
	}
	if _, err := b.mem.Patch(patchAddr, bp.OriginalData); err != nil {
		return nil, err
	}
	b.table.Remove(addr)
	b.log.Debugf("removed %s", bp)
	return bp, nil
}

// patching returns a breakpoint other than the one requested at except
// that holds a trap at patchAddr.
func (b *Breakpoints) patching(patchAddr, except uint32) *Breakpoint {
	for _, k := range b.table.Keys() {
		if k.(uint32) == except {
			continue
		}
		if v, ok := b.table.Peek(k); ok && v.(*Breakpoint).PatchAddr == patchAddr {
			return v.(*Breakpoint)
		}
	}
	return nil
}

// Find returns the breakpoint recorded for addr.
func (b *Breakpoints) Find(addr uint32) (*Breakpoint, bool) {
	v, ok := b.table.Peek(addr)
	if !ok {
		return nil, false
	}
	return v.(*Breakpoint), true
}

// Len returns the number of recorded breakpoints.
func (b *Breakpoints) Len() int {
	return b.table.Len()
}

// Evicted returns how many live records were dropped to make room for new
// ones. Clearing an evicted breakpoint leaves its trap in memory.
func (b *Breakpoints) Evicted() int {
	return b.evicted
}

// List returns the recorded breakpoints, oldest first.
func (b *Breakpoints) List() []*Breakpoint {
	keys := b.table.Keys()
	r := make([]*Breakpoint, 0, len(keys))
	for _, k := range keys {
		if v, ok := b.table.Peek(k); ok {
			r = append(r, v.(*Breakpoint))
		}
	}
	return r
}
