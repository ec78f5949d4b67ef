//go:build linux || darwin || freebsd

// Package mmap gives the agent an uncached view of target memory exposed
// by the host as a file, for example a physical window of /dev/mem opened
// with O_SYNC or an image file shared with a simulator.
package mmap

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/patmos-dbg/rspagent/pkg/proc"
)

// Region is a shared mapping of size bytes of a file, seen by the target
// at address Base.
type Region struct {
	Base uint32

	f    *os.File
	data []byte

	// Invalidate is called after a code word has been written. Nil means
	// the fetch path reads memory directly and nothing needs to be done.
	Invalidate func()
}

// Open maps size bytes of path starting at file offset off. The region is
// seen by the target at address base.
func Open(path string, off int64, size int, base uint32) (*Region, error) {
	if size <= 0 || size%proc.WordSize != 0 {
		return nil, fmt.Errorf("mapping size %d is not a positive multiple of %d", size, proc.WordSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	data, err := unix.Mmap(int(f.Fd()), off, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("could not map %s: %w", path, err)
	}
	return &Region{Base: base &^ (proc.WordSize - 1), f: f, data: data}, nil
}

// Close unmaps the region and closes the underlying file.
func (r *Region) Close() error {
	err := unix.Munmap(r.data)
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (r *Region) offset(addr uint32, write bool) (int, error) {
	addr &^= proc.WordSize - 1
	if addr < r.Base || uint64(addr-r.Base)+proc.WordSize > uint64(len(r.data)) {
		return 0, &proc.MemoryError{Addr: addr, Write: write}
	}
	return int(addr - r.Base), nil
}

// ReadWord implements proc.MemoryReader.
func (r *Region) ReadWord(addr uint32) (uint32, error) {
	off, err := r.offset(addr, false)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r.data[off:]), nil
}

// WriteWord implements proc.MemoryReadWriter.
func (r *Region) WriteWord(addr uint32, val uint32) error {
	off, err := r.offset(addr, true)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(r.data[off:], val)
	return nil
}

// InvalidateInstructionCache implements proc.CacheInvalidator.
func (r *Region) InvalidateInstructionCache() {
	if r.Invalidate != nil {
		r.Invalidate()
	}
}

// Sync flushes the mapping back to the file.
func (r *Region) Sync() error {
	return unix.Msync(r.data, unix.MS_SYNC)
}
