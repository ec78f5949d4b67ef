package sim

import (
	"bytes"
	"fmt"

	"github.com/patmos-dbg/rspagent/pkg/logflags"
	"github.com/patmos-dbg/rspagent/pkg/proc"
)

const (
	stackCacheSize = proc.NumGPR * proc.WordSize
	frameAreaSize  = 64

	// ScratchSize is the number of bytes after the code that hold the
	// trap frame.
	ScratchSize = stackCacheSize + frameAreaSize
)

// Config describes where an image lives in the simulated address space.
type Config struct {
	// Base is the load address of the image.
	Base uint32
	// Entry is the address of the trap the program executes on start up.
	// Zero means Base.
	Entry uint32
}

// Target is a simulated processor running a flat image. It stops at every
// trap instruction it fetches and hands control to a proc.TrapHandler.
type Target struct {
	Mem *Memory

	codeEnd uint32
	entry   uint32
	frame   proc.StackCacheFrame
	stops   int

	log logflags.Logger
}

// NewTarget loads image at cfg.Base into fresh RAM. The trap frame is kept
// in a scratch area right after the image.
func NewTarget(image []byte, cfg Config) (*Target, error) {
	base := cfg.Base &^ (proc.WordSize - 1)
	codeSize := (len(image) + proc.WordSize - 1) &^ (proc.WordSize - 1)
	mem := NewMemory(base, codeSize+ScratchSize)
	if _, err := mem.LoadImage(bytes.NewReader(image), base); err != nil {
		return nil, fmt.Errorf("could not load image: %w", err)
	}
	return newTarget(mem, base, base+uint32(codeSize), cfg.Entry)
}

// NewTargetOn runs the code already present in store between cfg.Base and
// codeEnd. The ScratchSize bytes following codeEnd must be writable, they
// hold the trap frame.
func NewTargetOn(store proc.MemoryReadWriter, cfg Config, codeEnd uint32) (*Target, error) {
	base := cfg.Base &^ (proc.WordSize - 1)
	codeEnd &^= proc.WordSize - 1
	if err := store.WriteWord(codeEnd+ScratchSize-proc.WordSize, 0); err != nil {
		return nil, fmt.Errorf("no room for the trap frame: %w", err)
	}
	return newTarget(NewCachedMemory(store), base, codeEnd, cfg.Entry)
}

func newTarget(mem *Memory, base, codeEnd, entry uint32) (*Target, error) {
	t := &Target{
		Mem:     mem,
		codeEnd: codeEnd,
		entry:   entry,
		log:     logflags.TargetLogger(),
	}
	if t.entry == 0 {
		t.entry = base
	}
	if t.entry < base || t.entry >= t.codeEnd {
		return nil, fmt.Errorf("entry point %#08x outside of image [%#08x, %#08x)", t.entry, base, t.codeEnd)
	}
	t.frame = proc.StackCacheFrame{
		Mem:        mem,
		StackCache: t.codeEnd,
		FramePtr:   t.codeEnd + stackCacheSize,
	}
	return t, nil
}

// Frame returns the trap frame of the last stop.
func (t *Target) Frame() *proc.StackCacheFrame { return &t.frame }

// Stops returns the number of times the target entered the trap handler.
func (t *Target) Stops() int { return t.stops }

// CodeEnd returns the first address past the loaded image.
func (t *Target) CodeEnd() uint32 { return t.codeEnd }

// SetReg stores the value the trap entry saves for register n, for
// 1 <= n <= 30. r31 is implied by the frame location.
func (t *Target) SetReg(n int, val uint32) error {
	switch {
	case n == 1 || n == 2:
		return t.Mem.WriteWord(t.frame.FramePtr+uint32(n-1)*proc.WordSize, val)
	case n >= 3 && n <= 30:
		return t.Mem.WriteWord(t.frame.StackCache+uint32(n)*proc.WordSize, val)
	}
	return fmt.Errorf("register r%d can not be set", n)
}

// Run executes the program starting with the trap at the entry point.
// Every fetched trap instruction transfers control to h until h detaches,
// after that traps are stepped over. Run returns when the program runs off
// the end of the image or when h fails.
func (t *Target) Run(h proc.TrapHandler) error {
	pc := t.entry
	for {
		t.enterTrap(pc)
		mode, err := h.HandleTrap(&t.frame)
		if err != nil {
			return err
		}
		if mode == proc.ResumeDetach {
			t.log.Infof("debugger detached at %#08x", pc)
			return t.runDetached(t.frame.Base + t.frame.Offset)
		}
		next, hit, err := t.runToTrap(t.frame.Base + t.frame.Offset)
		if err != nil {
			return err
		}
		if !hit {
			t.log.Infof("program exited after %d stops", t.stops)
			return nil
		}
		pc = next
	}
}

// enterTrap does what the exception prologue does: record the return
// address of the trap at pc.
func (t *Target) enterTrap(pc uint32) {
	t.stops++
	t.frame.Base = pc
	t.frame.Offset = proc.TrapWidth
	t.log.Debugf("trap at %#08x", pc)
}

// runToTrap fetches instructions starting at pc until it finds a trap.
func (t *Target) runToTrap(pc uint32) (uint32, bool, error) {
	for ; pc < t.codeEnd; pc += proc.WordSize {
		w, err := t.Mem.Fetch(pc)
		if err != nil {
			return 0, false, err
		}
		if w == proc.TrapInstruction {
			return pc, true, nil
		}
	}
	return 0, false, nil
}

// runDetached runs the rest of the program without a debugger.
func (t *Target) runDetached(pc uint32) error {
	skipped := 0
	for {
		next, hit, err := t.runToTrap(pc)
		if err != nil {
			return err
		}
		if !hit {
			t.log.Infof("program exited, %d traps skipped after detach", skipped)
			return nil
		}
		skipped++
		pc = next + proc.TrapWidth
	}
}
