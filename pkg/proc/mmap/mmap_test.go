//go:build linux || darwin || freebsd

package mmap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/patmos-dbg/rspagent/pkg/proc"
)

func TestRegionPatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem.bin")
	img := []byte{
		0x80, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x03,
		0x00, 0x00, 0x00, 0x04,
	}
	if err := os.WriteFile(path, img, 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path, 0, len(img), 0x2000)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	invalidations := 0
	r.Invalidate = func() { invalidations++ }

	bps, err := proc.NewBreakpoints(proc.NewCodePatcher(r, r), proc.BreakpointsConfig{})
	if err != nil {
		t.Fatal(err)
	}
	bp, err := bps.Insert(0x2004)
	if err != nil {
		t.Fatal(err)
	}
	if bp.PatchAddr != 0x2008 {
		t.Fatalf("patched %#x", bp.PatchAddr)
	}
	if invalidations != 1 {
		t.Fatalf("expected 1 invalidation, got %d", invalidations)
	}
	if err := r.Sync(); err != nil {
		t.Fatal(err)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(onDisk[8:12], []byte{0x05, 0x80, 0x00, 0x10}) {
		t.Fatalf("trap not written through the mapping: % x", onDisk[8:12])
	}

	if _, err := bps.Remove(0x2004); err != nil {
		t.Fatal(err)
	}
	if w, _ := r.ReadWord(0x2008); w != 3 {
		t.Fatalf("restored %08x", w)
	}
}

func TestRegionBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem.bin")
	if err := os.WriteFile(path, make([]byte, 8), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := Open(path, 0, 8, 0x100)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for _, addr := range []uint32{0xfc, 0x108, 0xffffffff} {
		if _, err := r.ReadWord(addr); err == nil {
			t.Errorf("read at %#x should fail", addr)
		}
	}
	if _, err := Open(path, 0, 6, 0); err == nil {
		t.Errorf("unaligned size should be rejected")
	}
}
