package proc

const (
	// WordSize is the size in bytes of an instruction slot and of a
	// register.
	WordSize = 4

	// TrapInstruction is the encoding of "trap 16" written over patched
	// instructions.
	TrapInstruction uint32 = 0x05800010

	// TrapWidth is the size of the trap instruction, the interrupted PC is
	// this far behind the return address saved by the trap entry.
	TrapWidth = 4

	// bundleBit is set in the first slot of a multi slot bundle.
	bundleBit uint32 = 0x80000000
)

// bundleStart reports whether word opens a two slot bundle.
func bundleStart(word uint32) bool {
	return word&bundleBit != 0
}

// ResumeMode tells the trap exit path how the debug session ended.
type ResumeMode int

const (
	// ResumeContinue returns to the trapped program, later traps enter the
	// agent again.
	ResumeContinue ResumeMode = iota
	// ResumeDetach returns to the trapped program and ends the session.
	ResumeDetach
)

func (m ResumeMode) String() string {
	switch m {
	case ResumeContinue:
		return "continue"
	case ResumeDetach:
		return "detach"
	}
	return "unknown"
}

// TrapHandler is the entry point the trap mechanism transfers control to.
type TrapHandler interface {
	HandleTrap(f Frame) (ResumeMode, error)
}
