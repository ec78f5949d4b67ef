package proc

import "fmt"

// Register numbers with a fixed role in the trap frame layout.
const (
	regFirstSpilled = 3
	regLastSpilled  = 30
	regFrame        = 31

	frameSize = 12
)

// StackCacheFrame reads the registers saved by the exception prologue.
// r3 to r30 are spilled to the first words of the stack cache window,
// r1 and r2 are pushed on the frame pointed to by r31, which the prologue
// moved down by frameSize bytes.
type StackCacheFrame struct {
	Mem        MemoryReader
	StackCache uint32 // address of stack cache word 0
	FramePtr   uint32 // r31 after the prologue
	Base       uint32 // exception return base
	Offset     uint32 // exception return offset
}

// Reg implements Frame.
func (f *StackCacheFrame) Reg(n int) (uint32, error) {
	switch {
	case n == 1 || n == 2:
		return f.Mem.ReadWord(f.FramePtr + uint32(n-1)*WordSize)
	case n >= regFirstSpilled && n <= regLastSpilled:
		return f.Mem.ReadWord(f.StackCache + uint32(n)*WordSize)
	case n == regFrame:
		return f.FramePtr + frameSize, nil
	}
	return 0, fmt.Errorf("no register r%d in trap frame", n)
}

// ExceptionBase implements Frame.
func (f *StackCacheFrame) ExceptionBase() uint32 { return f.Base }

// ExceptionOffset implements Frame.
func (f *StackCacheFrame) ExceptionOffset() uint32 { return f.Offset }
