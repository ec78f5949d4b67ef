package sim

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/patmos-dbg/rspagent/pkg/proc"
)

func words(ws ...uint32) []byte {
	buf := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.BigEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

// recorder resumes the target a fixed number of times, recording the PC of
// every stop, then detaches.
type recorder struct {
	pcs     []uint32
	resumes int
	onStop  func(n int)
}

func (r *recorder) HandleTrap(f proc.Frame) (proc.ResumeMode, error) {
	regs, err := proc.ReadRegisters(f)
	if err != nil {
		return proc.ResumeContinue, err
	}
	r.pcs = append(r.pcs, regs.PC)
	if r.onStop != nil {
		r.onStop(len(r.pcs))
	}
	if len(r.pcs) > r.resumes {
		return proc.ResumeDetach, nil
	}
	return proc.ResumeContinue, nil
}

func TestLoadImagePadsPartialWord(t *testing.T) {
	mem := NewMemory(0x100, 8)
	n, err := mem.LoadImage(bytes.NewReader([]byte{1, 2, 3, 4, 5, 6}), 0x100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Fatalf("loaded %d bytes", n)
	}
	if w, _ := mem.ReadWord(0x104); w != 0x05060000 {
		t.Fatalf("second word %08x", w)
	}
	if _, err := mem.LoadImage(bytes.NewReader(make([]byte, 12)), 0x100); err == nil {
		t.Fatalf("loading past the end of memory should fail")
	}
}

func TestUnalignedAccess(t *testing.T) {
	mem := NewMemory(0x100, 8)
	_ = mem.WriteWord(0x104, 0xcafe)
	if w, _ := mem.ReadWord(0x107); w != 0xcafe {
		t.Fatalf("read %08x", w)
	}
}

func TestRunStopsAtTraps(t *testing.T) {
	img := words(
		proc.TrapInstruction, // 0x400 program start
		0x00000001,
		proc.TrapInstruction, // 0x408
		0x00000002,
		0x00000003,
	)
	tgt, err := NewTarget(img, Config{Base: 0x400})
	if err != nil {
		t.Fatal(err)
	}
	r := &recorder{resumes: 5}
	if err := tgt.Run(r); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{0x400, 0x408}, r.pcs); diff != "" {
		t.Fatalf("stops mismatch (-want +got):\n%s", diff)
	}
	if tgt.Stops() != 2 {
		t.Fatalf("expected 2 stops, got %d", tgt.Stops())
	}
}

func TestRunSeesPatchedCode(t *testing.T) {
	img := words(proc.TrapInstruction, 0x1, 0x2, 0x3)
	tgt, err := NewTarget(img, Config{Base: 0x400})
	if err != nil {
		t.Fatal(err)
	}
	patcher := proc.NewCodePatcher(tgt.Mem, tgt.Mem)
	r := &recorder{resumes: 5}
	r.onStop = func(n int) {
		if n == 1 {
			// warm the cache, then patch the third slot
			_, _ = tgt.Mem.Fetch(0x408)
			if _, err := patcher.Patch(0x408, proc.TrapInstruction); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tgt.Run(r); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{0x400, 0x408}, r.pcs); diff != "" {
		t.Fatalf("stops mismatch (-want +got):\n%s", diff)
	}
}

func TestRunMissesStaleCache(t *testing.T) {
	img := words(proc.TrapInstruction, 0x1, 0x2, 0x3)
	tgt, err := NewTarget(img, Config{Base: 0x400})
	if err != nil {
		t.Fatal(err)
	}
	r := &recorder{resumes: 5}
	r.onStop = func(n int) {
		if n == 1 {
			_, _ = tgt.Mem.Fetch(0x408)
			_ = tgt.Mem.WriteWord(0x408, proc.TrapInstruction)
		}
	}
	if err := tgt.Run(r); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{0x400}, r.pcs); diff != "" {
		t.Fatalf("stops mismatch (-want +got):\n%s", diff)
	}
}

func TestRunDetach(t *testing.T) {
	img := words(proc.TrapInstruction, proc.TrapInstruction)
	tgt, err := NewTarget(img, Config{Base: 0x400})
	if err != nil {
		t.Fatal(err)
	}
	r := &recorder{resumes: 0}
	if err := tgt.Run(r); err != nil {
		t.Fatal(err)
	}
	if len(r.pcs) != 1 {
		t.Fatalf("expected a single stop, got %d", len(r.pcs))
	}
}

func TestEntryOutsideImage(t *testing.T) {
	if _, err := NewTarget(words(0), Config{Base: 0x400, Entry: 0x800}); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestTargetOnExternalStore(t *testing.T) {
	ram := NewRAM(0x400, 16+ScratchSize)
	for i, w := range []uint32{proc.TrapInstruction, 1, proc.TrapInstruction, 2} {
		_ = ram.WriteWord(0x400+uint32(4*i), w)
	}
	tgt, err := NewTargetOn(ram, Config{Base: 0x400}, 0x410)
	if err != nil {
		t.Fatal(err)
	}
	if err := tgt.SetReg(5, 0x55); err != nil {
		t.Fatal(err)
	}
	r := &recorder{resumes: 5}
	if err := tgt.Run(r); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{0x400, 0x408}, r.pcs); diff != "" {
		t.Fatalf("stops mismatch (-want +got):\n%s", diff)
	}
	if w, _ := ram.ReadWord(0x410 + 5*4); w != 0x55 {
		t.Fatalf("r5 not saved in the external store: %08x", w)
	}

	if _, err := NewTargetOn(NewRAM(0x400, 16), Config{Base: 0x400}, 0x410); err == nil {
		t.Fatalf("expected an error when the trap frame does not fit")
	}
}
