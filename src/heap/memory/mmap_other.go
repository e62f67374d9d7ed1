//go:build !linux && !darwin

package memory

import "os"

// Without mmap the whole range is allocated up front and committing only tracks the accessible prefix.

func PageSize() int {
	return os.Getpagesize()
}

func reserve(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func commit(b []byte) error {
	return nil
}

func uncommit(b []byte) error {
	clear(b)
	return nil
}

func release(b []byte) error {
	return nil
}
