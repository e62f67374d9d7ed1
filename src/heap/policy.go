package heap

import (
	"maxvm/src/heap/memory"
)

// ResizePolicy decides the committed size of a heap after a collection. The heap grows when free space would drop
// below MinFreePercent of its size, counting a pending request, and shrinks when free space exceeds MaxFreePercent.
// The result is a multiple of Granularity within [InitSize, MaxSize].
type ResizePolicy struct {
	MinFreePercent int
	MaxFreePercent int
	InitSize       int
	MaxSize        int
	Granularity    int
}

// Target returns the committed size for a heap of committed bytes with free bytes available, given a pending
// request of request bytes.
func (p ResizePolicy) Target(committed, free, request int) int {
	used := committed - free
	target := committed
	switch {
	case p.MinFreePercent >= 100:
		target = p.MaxSize
	case (free-request)*100 < committed*p.MinFreePercent:
		target = ceilDiv((used+request)*100, 100-p.MinFreePercent)
	case p.MaxFreePercent < 100 && free*100 > committed*p.MaxFreePercent:
		target = ceilDiv(used*100, 100-p.MaxFreePercent)
	}
	if p.Granularity > 0 {
		target = memory.AlignUp(target, p.Granularity)
	}
	if target < p.InitSize {
		target = p.InitSize
	}
	if target > p.MaxSize {
		target = p.MaxSize
	}
	return target
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
