package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/inhies/go-bytesize"
)

func TestParseArgs(t *testing.T) {
	opt, err := parseArgs([]string{"-t", "3", "-gct", "2", "-arch", "aarch64", "-scheme", "belt", "-Xms", "8m",
		"-Xmx", "1G", "-tlab", "16k", "-vb", "-debug", "-gc", "-memprofile", "heap.pb.gz", "-o", "out.txt", "work.gc"})
	if err != nil {
		t.Fatal(err)
	}
	if opt.Threads != 3 || opt.GCThreads != 2 {
		t.Errorf("expected threads 3 and gc threads 2, got %d and %d", opt.Threads, opt.GCThreads)
	}
	if opt.TargetArch != Aarch64 || opt.Scheme != Belt {
		t.Errorf("expected aarch64 and belt, got %d and %d", opt.TargetArch, opt.Scheme)
	}
	if opt.InitHeap != 8*bytesize.MB || opt.MaxHeap != bytesize.GB || opt.TLABSize != 16*bytesize.KB {
		t.Errorf("unexpected sizes: %s %s %s", opt.InitHeap, opt.MaxHeap, opt.TLABSize)
	}
	if !opt.Verbose || !opt.Debug || !opt.Workload {
		t.Errorf("expected verbose, debug and workload mode to be set")
	}
	if opt.MemProfile != "heap.pb.gz" || opt.Out != "out.txt" || opt.Src != "work.gc" {
		t.Errorf("unexpected paths: %q %q %q", opt.MemProfile, opt.Out, opt.Src)
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		args []string
		err  string
	}{
		{[]string{"-t", "x", "src"}, "expected integer thread count"},
		{[]string{"-t", "0", "src"}, "thread count must be"},
		{[]string{"-arch", "mips", "src"}, "unexpected architecture identifier"},
		{[]string{"-scheme", "copying", "src"}, "unexpected heap scheme"},
		{[]string{"-Xmx", "lots", "src"}, "invalid memory size"},
		{[]string{"-Xms", "2g", "-Xmx", "1g", "src"}, "exceeds maximum heap size"},
		{[]string{"-o", "-vb", "src"}, "expected argument to flag -o"},
		{[]string{"-w", "src"}, "unexpected flag"},
	}
	for _, e1 := range tests {
		_, err := parseArgs(e1.args)
		if err == nil {
			t.Errorf("%v: expected error", e1.args)
			continue
		}
		if !strings.Contains(err.Error(), e1.err) {
			t.Errorf("%v: expected error containing %q, got %q", e1.args, e1.err, err)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		s    string
		size bytesize.ByteSize
	}{
		{"64MB", 64 * bytesize.MB},
		{"512k", 512 * bytesize.KB},
		{"1g", bytesize.GB},
		{"4096", 4 * bytesize.KB},
	}
	for _, e1 := range tests {
		b, err := ParseSize(e1.s)
		if err != nil {
			t.Errorf("%s: %s", e1.s, err)
			continue
		}
		if b != e1.size {
			t.Errorf("%s: expected %s, got %s", e1.s, e1.size, b)
		}
	}
	if _, err := ParseSize("0"); err == nil {
		t.Errorf("expected error for zero size")
	}
}

func TestConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maxvm.yaml")
	src := "threads: 2\nscheme: belt\ninitial_heap: 4m\nmax_heap: 32m\nmin_free_percent: 20\nadapter_frames: true\n"
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	// Flags take precedence over the file.
	opt, err := parseArgs([]string{"-c", path, "-t", "4", "work.gc"})
	if err != nil {
		t.Fatal(err)
	}
	if opt.Threads != 4 {
		t.Errorf("expected flag to override threads, got %d", opt.Threads)
	}
	if opt.Scheme != Belt || opt.InitHeap != 4*bytesize.MB || opt.MaxHeap != 32*bytesize.MB {
		t.Errorf("configuration not applied: scheme %d, heap %s..%s", opt.Scheme, opt.InitHeap, opt.MaxHeap)
	}
	if opt.MinFreePercent != 20 || opt.MaxFreePercent != DefaultMaxFreePercent || !opt.AdapterFrames {
		t.Errorf("unexpected free percentages %d, %d or adapter frames %t",
			opt.MinFreePercent, opt.MaxFreePercent, opt.AdapterFrames)
	}

	if err := os.WriteFile(path, []byte("heap: 4m\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadConfig(path); err == nil {
		t.Errorf("expected error for unknown configuration key")
	}
	if err := os.WriteFile(path, []byte("min_free_percent: 90\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := parseArgs([]string{"-c", path, "work.gc"}); err == nil {
		t.Errorf("expected error for min_free_percent above max_free_percent")
	}
}
