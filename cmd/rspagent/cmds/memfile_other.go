//go:build !linux && !darwin && !freebsd

package cmds

import (
	"errors"
	"io"
)

func openTargetMemory(path string, off int64, size int, base uint32) (targetStore, io.Closer, error) {
	return nil, nil, errors.New("--mem-file is not supported on this platform")
}
