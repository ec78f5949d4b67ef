//go:build linux || darwin || freebsd

package cmds

import (
	"io"

	"github.com/patmos-dbg/rspagent/pkg/proc/mmap"
)

func openTargetMemory(path string, off int64, size int, base uint32) (targetStore, io.Closer, error) {
	r, err := mmap.Open(path, off, size, base)
	if err != nil {
		return nil, nil, err
	}
	return r, r, nil
}
