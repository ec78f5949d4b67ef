package proc

import "fmt"

// MemoryReader reads 32-bit words from the target through an uncached view.
type MemoryReader interface {
	// ReadWord returns the word at the byte address addr.
	ReadWord(addr uint32) (uint32, error)
}

// MemoryReadWriter is a MemoryReader that can also store words.
type MemoryReadWriter interface {
	MemoryReader
	WriteWord(addr uint32, val uint32) error
}

// CacheInvalidator discards stale instruction cache contents so that the
// fetch path observes words written through the uncached view.
type CacheInvalidator interface {
	InvalidateInstructionCache()
}

// Patcher modifies code. After Patch returns, the new word is visible to
// instruction fetch.
type Patcher interface {
	MemoryReader
	// Patch replaces the word at addr with word and returns the word it
	// replaced.
	Patch(addr uint32, word uint32) (prev uint32, err error)
}

// MemoryError is returned when a target address can not be accessed.
type MemoryError struct {
	Addr  uint32
	Write bool
}

func (e *MemoryError) Error() string {
	op := "read"
	if e.Write {
		op = "write"
	}
	return fmt.Sprintf("could not %s memory at %#08x", op, e.Addr)
}

// CodePatcher implements Patcher by writing through mem and invalidating
// cache after every write.
type CodePatcher struct {
	mem   MemoryReadWriter
	cache CacheInvalidator
}

// NewCodePatcher returns a Patcher that writes words to mem and
// invalidates cache after each write.
func NewCodePatcher(mem MemoryReadWriter, cache CacheInvalidator) *CodePatcher {
	return &CodePatcher{mem: mem, cache: cache}
}

// ReadWord reads the word at addr from the uncached view.
func (p *CodePatcher) ReadWord(addr uint32) (uint32, error) {
	return p.mem.ReadWord(addr)
}

// Patch writes word at addr and invalidates the instruction cache.
func (p *CodePatcher) Patch(addr uint32, word uint32) (uint32, error) {
	prev, err := p.mem.ReadWord(addr)
	if err != nil {
		return 0, err
	}
	if err := p.mem.WriteWord(addr, word); err != nil {
		return 0, err
	}
	p.cache.InvalidateInstructionCache()
	return prev, nil
}
