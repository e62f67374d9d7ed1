package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResizePolicy(t *testing.T) {
	p := ResizePolicy{MinFreePercent: 40, MaxFreePercent: 70, InitSize: 4096, MaxSize: 65536, Granularity: 4096}
	tests := []struct {
		name                     string
		committed, free, request int
		target                   int
	}{
		{name: "balanced", committed: 16384, free: 8192, target: 16384},
		{name: "grow", committed: 16384, free: 4096, target: 20480},
		{name: "grow for request", committed: 16384, free: 8192, request: 4096, target: 20480},
		{name: "grow capped", committed: 65536, free: 0, target: 65536},
		{name: "shrink", committed: 32768, free: 28672, target: 16384},
		{name: "shrink floored", committed: 16384, free: 16384, target: 4096},
	}
	for _, e1 := range tests {
		t.Run(e1.name, func(t *testing.T) {
			require.Equal(t, e1.target, p.Target(e1.committed, e1.free, e1.request))
		})
	}

	p.MinFreePercent = 100
	require.Equal(t, 65536, p.Target(8192, 8192, 0))
}
