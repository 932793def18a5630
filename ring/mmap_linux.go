//go:build linux

package ring

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileBacking owns an mmap'd region backed by a regular file at path,
// released on Close. Mirrors the raw mmap'd-I/O style used elsewhere for
// block device buffers, generalized here from a device-backed mapping to
// a plain-file-backed one (no real shared-memory device is required for a
// single-process engine; the file gives the region a stable path when a
// backing_path is configured, and lets an operator inspect it with
// standard tools).
type fileBacking struct {
	f    *os.File
	data []byte
}

func (fb *fileBacking) Close() error {
	err := unix.Munmap(fb.data)
	cerr := fb.f.Close()
	if err != nil {
		return err
	}
	return cerr
}

func openMmap(path string, size int64) ([]byte, backing, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open ring backing file: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("truncate ring backing file: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("mmap ring backing file: %w", err)
	}
	return data, &fileBacking{f: f, data: data}, nil
}
