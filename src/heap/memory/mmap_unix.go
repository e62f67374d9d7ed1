//go:build linux || darwin

package memory

import (
	"golang.org/x/sys/unix"
)

// PageSize returns the page size of the operating system.
func PageSize() int {
	return unix.Getpagesize()
}

// reserve maps size bytes of inaccessible anonymous memory without reserving swap.
func reserve(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
}

// commit makes b readable and writable. Fresh pages read as zero.
func commit(b []byte) error {
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE)
}

// uncommit hands the pages of b back to the operating system and makes them inaccessible again.
func uncommit(b []byte) error {
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return err
	}
	return unix.Mprotect(b, unix.PROT_NONE)
}

func release(b []byte) error {
	return unix.Munmap(b)
}
