// Package sim provides a simulated target for the debug agent: word
// addressed memory with an instruction cache, a trap frame kept in a stack
// cache window and a trivial executor that runs from one trap to the next.
package sim

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/patmos-dbg/rspagent/pkg/proc"
)

// RAM is a flat region of word addressed memory. The low two bits of
// addresses are ignored like the hardware does.
type RAM struct {
	base  uint32
	words []uint32
}

// NewRAM returns size bytes of zeroed memory starting at base.
func NewRAM(base uint32, size int) *RAM {
	return &RAM{
		base:  base &^ (proc.WordSize - 1),
		words: make([]uint32, (size+proc.WordSize-1)/proc.WordSize),
	}
}

// Base returns the first address of the region.
func (m *RAM) Base() uint32 { return m.base }

// End returns the first address past the region.
func (m *RAM) End() uint32 { return m.base + uint32(len(m.words))*proc.WordSize }

func (m *RAM) index(addr uint32) (int, bool) {
	addr &^= proc.WordSize - 1
	if addr < m.base || addr >= m.End() {
		return 0, false
	}
	return int((addr - m.base) / proc.WordSize), true
}

// ReadWord implements proc.MemoryReader.
func (m *RAM) ReadWord(addr uint32) (uint32, error) {
	i, ok := m.index(addr)
	if !ok {
		return 0, &proc.MemoryError{Addr: addr}
	}
	return m.words[i], nil
}

// WriteWord implements proc.MemoryReadWriter.
func (m *RAM) WriteWord(addr uint32, val uint32) error {
	i, ok := m.index(addr)
	if !ok {
		return &proc.MemoryError{Addr: addr, Write: true}
	}
	m.words[i] = val
	return nil
}

// Memory puts an instruction cache in front of a backing store. ReadWord
// and WriteWord are the uncached view and go straight to the store, Fetch
// is the instruction fetch path and goes through the cache.
type Memory struct {
	store proc.MemoryReadWriter

	icache        map[uint32]uint32
	invalidations int
}

// NewMemory returns size bytes of zeroed RAM starting at base behind an
// empty instruction cache.
func NewMemory(base uint32, size int) *Memory {
	return NewCachedMemory(NewRAM(base, size))
}

// NewCachedMemory puts an empty instruction cache in front of store.
func NewCachedMemory(store proc.MemoryReadWriter) *Memory {
	return &Memory{store: store, icache: make(map[uint32]uint32)}
}

// ReadWord implements proc.MemoryReader.
func (m *Memory) ReadWord(addr uint32) (uint32, error) {
	return m.store.ReadWord(addr)
}

// WriteWord implements proc.MemoryReadWriter.
func (m *Memory) WriteWord(addr uint32, val uint32) error {
	return m.store.WriteWord(addr, val)
}

// Fetch reads an instruction word the way the fetch stage does, serving it
// from the instruction cache when present.
func (m *Memory) Fetch(addr uint32) (uint32, error) {
	addr &^= proc.WordSize - 1
	if w, ok := m.icache[addr]; ok {
		return w, nil
	}
	w, err := m.store.ReadWord(addr)
	if err != nil {
		return 0, err
	}
	m.icache[addr] = w
	return w, nil
}

// InvalidateInstructionCache implements proc.CacheInvalidator.
func (m *Memory) InvalidateInstructionCache() {
	m.icache = make(map[uint32]uint32)
	m.invalidations++
}

// Invalidations returns the number of times the instruction cache was
// invalidated.
func (m *Memory) Invalidations() int { return m.invalidations }

// LoadImage copies a flat big endian image read from r into memory at
// addr, bypassing the cache. A trailing partial word is zero padded.
func (m *Memory) LoadImage(r io.Reader, addr uint32) (n int, err error) {
	rdr := bufio.NewReader(r)
	var buf [proc.WordSize]byte
	for {
		k, err := io.ReadFull(rdr, buf[:])
		if err == io.EOF {
			return n, nil
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return n, err
		}
		for i := k; i < len(buf); i++ {
			buf[i] = 0
		}
		if werr := m.store.WriteWord(addr, binary.BigEndian.Uint32(buf[:])); werr != nil {
			return n, werr
		}
		n += k
		addr += proc.WordSize
		if err != nil {
			return n, nil
		}
	}
}
