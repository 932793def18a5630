//go:build !linux

package ring

import "fmt"

func openMmap(path string, size int64) ([]byte, backing, error) {
	return nil, nil, fmt.Errorf("ring: file-backed buffer (%q) requires linux", path)
}
