package proc

import (
	"fmt"
	"strings"
)

const (
	// NumGPR is the number of general purpose registers, r0 included.
	NumGPR = 32
	// NumRegisters is the number of fields in a register snapshot.
	NumRegisters = NumGPR + 6
	// PCRegister is the index of the program counter in a snapshot.
	PCRegister = NumRegisters - 1

	unavailable = "xxxxxxxx"
)

// Frame is the register state saved by the trap entry mechanism.
type Frame interface {
	// Reg returns general purpose register n, 1 <= n < NumGPR.
	Reg(n int) (uint32, error)
	// ExceptionBase returns the base of the interrupted function.
	ExceptionBase() uint32
	// ExceptionOffset returns the offset of the return address within the
	// interrupted function.
	ExceptionOffset() uint32
}

// Registers is a snapshot of the register file of a stopped target.
// The status, lo, hi, bad address and cause registers are not tracked
// and always read as unavailable.
type Registers struct {
	GPR [NumGPR]uint32
	PC  uint32
}

// ReadRegisters takes a snapshot of the registers saved in f. r0 is
// hardwired to zero and is not read from f.
func ReadRegisters(f Frame) (*Registers, error) {
	regs := &Registers{}
	for n := 1; n < NumGPR; n++ {
		v, err := f.Reg(n)
		if err != nil {
			return nil, fmt.Errorf("could not read r%d: %w", n, err)
		}
		regs.GPR[n] = v
	}
	regs.PC = f.ExceptionBase() + f.ExceptionOffset() - TrapWidth
	return regs, nil
}

// Hex returns the snapshot in the format of a 'g' reply: NumRegisters
// fields of eight hex digits, most significant first, with no separators.
func (regs *Registers) Hex() string {
	var b strings.Builder
	b.Grow(NumRegisters * 8)
	for _, v := range regs.GPR {
		fmt.Fprintf(&b, "%08x", v)
	}
	for i := NumGPR; i < PCRegister; i++ {
		b.WriteString(unavailable)
	}
	fmt.Fprintf(&b, "%08x", regs.PC)
	return b.String()
}

// Unavailable is the value reported for a register that can not be read.
func Unavailable() string {
	return unavailable
}
