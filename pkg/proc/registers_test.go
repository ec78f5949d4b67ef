package proc_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/patmos-dbg/rspagent/pkg/proc"
)

type fakeFrame struct {
	regs         [proc.NumGPR]uint32
	base, offset uint32
	fail         int
}

func (f *fakeFrame) Reg(n int) (uint32, error) {
	if n == 0 {
		panic("r0 must not be read from the frame")
	}
	if n == f.fail {
		return 0, &proc.MemoryError{Addr: uint32(n)}
	}
	return f.regs[n], nil
}

func (f *fakeFrame) ExceptionBase() uint32   { return f.base }
func (f *fakeFrame) ExceptionOffset() uint32 { return f.offset }

func TestRegistersHex(t *testing.T) {
	f := &fakeFrame{base: 0x24b00, offset: 0x48}
	f.regs[0] = 0xdeadbeef
	for n := 1; n < proc.NumGPR; n++ {
		f.regs[n] = uint32(n) << 24
	}

	regs, err := proc.ReadRegisters(f)
	if err != nil {
		t.Fatal(err)
	}
	out := regs.Hex()
	if len(out) != 304 {
		t.Fatalf("expected 304 characters, got %d", len(out))
	}

	var want strings.Builder
	want.WriteString("00000000")
	for n := 1; n < proc.NumGPR; n++ {
		fmt.Fprintf(&want, "%08x", uint32(n)<<24)
	}
	want.WriteString(strings.Repeat("xxxxxxxx", 5))
	want.WriteString("00024b44")
	if out != want.String() {
		t.Fatalf("register dump mismatch:\n got %s\nwant %s", out, want.String())
	}
}

func TestReadRegistersError(t *testing.T) {
	f := &fakeFrame{fail: 7}
	_, err := proc.ReadRegisters(f)
	var merr *proc.MemoryError
	if !errors.As(err, &merr) {
		t.Fatalf("expected a MemoryError, got %v", err)
	}
}

func TestStackCacheFrame(t *testing.T) {
	mem := newMemory(t, make([]uint32, 64)...)
	f := &proc.StackCacheFrame{Mem: mem, StackCache: base, FramePtr: base + 0x80}
	_ = mem.WriteWord(base+0x80, 0x11)
	_ = mem.WriteWord(base+0x84, 0x22)
	_ = mem.WriteWord(base+3*4, 0x33)
	_ = mem.WriteWord(base+30*4, 0x3030)

	for _, tc := range []struct {
		n    int
		want uint32
	}{
		{1, 0x11},
		{2, 0x22},
		{3, 0x33},
		{30, 0x3030},
		{31, base + 0x80 + 12},
	} {
		got, err := f.Reg(tc.n)
		if err != nil {
			t.Fatalf("r%d: %v", tc.n, err)
		}
		if got != tc.want {
			t.Errorf("r%d = %#x, want %#x", tc.n, got, tc.want)
		}
	}
	if _, err := f.Reg(32); err == nil {
		t.Errorf("r32 should not exist")
	}
}
