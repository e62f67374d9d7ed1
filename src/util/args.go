package util

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/inhies/go-bytesize"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Options holds the run configuration of the VM core, assembled from the optional YAML configuration file and the
// command line. Command line flags override values read from the configuration file.
type Options struct {
	Src            string            // Path to source file (EIR text, LLVM IR or workload script).
	Out            string            // Path to output file.
	Config         string            // Path to YAML configuration file.
	Threads        int               // Compiler thread count.
	GCThreads      int               // Number of parallel scavenger threads used by the belt collector.
	Verbose        bool              // Set true to log statistics to stderr.
	Debug          bool              // Debug build: trim redundant instructions after register allocation.
	TokenStream    bool              // Set true to output the EIR token stream and exit.
	LLVM           bool              // Set true if the source file is LLVM IR to import.
	Workload       bool              // Set true if the source file is a mutator workload script.
	AdapterFrames  bool              // Methods are compiled with adapter frames.
	TargetArch     int               // Target architecture of the register allocator.
	Scheme         int               // Heap scheme used by workloads.
	InitHeap       bytesize.ByteSize // Initial committed heap size.
	MaxHeap        bytesize.ByteSize // Maximum heap size.
	TLABSize       bytesize.ByteSize // Size of a thread local allocation buffer.
	MinFreePercent int               // Grow the heap when free space after collection drops below this percentage.
	MaxFreePercent int               // Shrink the heap when free space after collection exceeds this percentage.
	MemProfile     string            // Write a live heap profile to this file after a workload.
}

// ---------------------
// ----- Constants -----
// ---------------------

const maxThreads = 64 // Maximum threads allowed executing in parallel.
const appVersion = "maxvm core 1.0"

// Target machine architectures.
const (
	UnknownArch = iota
	X86_64
	Aarch64
	Riscv64
)

// Heap schemes.
const (
	MarkSweep = iota
	Belt
)

// Default heap configuration.
const (
	DefaultInitHeap       = 16 * bytesize.MB
	DefaultMaxHeap        = 64 * bytesize.MB
	DefaultTLABSize       = 64 * bytesize.KB
	DefaultMinFreePercent = 40
	DefaultMaxFreePercent = 70
)

// ---------------------
// ----- functions -----
// ---------------------

// DefaultOptions returns the configuration used when neither a configuration file nor flags say otherwise.
func DefaultOptions() Options {
	return Options{
		Threads:        1,
		GCThreads:      1,
		TargetArch:     X86_64,
		Scheme:         MarkSweep,
		InitHeap:       DefaultInitHeap,
		MaxHeap:        DefaultMaxHeap,
		TLABSize:       DefaultTLABSize,
		MinFreePercent: DefaultMinFreePercent,
		MaxFreePercent: DefaultMaxFreePercent,
	}
}

// ParseArgs parses command line arguments.
func ParseArgs() (Options, error) {
	return parseArgs(os.Args[1:])
}

// parseArgs parses the argument list args. The last argument is the source file.
func parseArgs(args []string) (Options, error) {
	opt := DefaultOptions()
	if len(args) < 1 {
		return opt, nil
	}

	// The configuration file is applied before any other flag so that flags take precedence.
	for i1 := 0; i1 < len(args)-1; i1++ {
		if args[i1] == "-c" {
			cfg, err := ReadConfig(args[i1+1])
			if err != nil {
				return opt, err
			}
			if err := cfg.Apply(&opt); err != nil {
				return opt, err
			}
			opt.Config = args[i1+1]
		}
	}

	for i1 := 0; i1 < len(args)-1; i1++ {
		switch args[i1] {
		case "-h", "--h", "-help", "--help":
			// Help and usage.
			printHelp()
			os.Exit(0)
		case "-ll":
			// Import LLVM IR.
			opt.LLVM = true
		case "-gc":
			// Run a mutator workload.
			opt.Workload = true
		case "-adapters":
			opt.AdapterFrames = true
		case "-debug":
			opt.Debug = true
		case "-ts":
			// Output token stream
			opt.TokenStream = true
		case "-vb":
			// Verbose mode.
			opt.Verbose = true
		case "-v", "--v", "-version", "--version":
			// Application version.
			fmt.Println(appVersion)
			os.Exit(0)
		case "-c", "-o", "-t", "-gct", "-arch", "-scheme", "-Xms", "-Xmx", "-tlab", "-memprofile":
			if i1+1 >= len(args) {
				return opt, fmt.Errorf("got flag %s but no argument", args[i1])
			}
			if strings.HasPrefix(args[i1+1], "-") {
				return opt, fmt.Errorf("expected argument to flag %s, got new flag %s", args[i1], args[i1+1])
			}
			if err := opt.set(args[i1], args[i1+1]); err != nil {
				return opt, err
			}
			i1++
		default:
			return opt, fmt.Errorf("unexpected flag: %s", args[i1])
		}
	}
	if len(args) > 0 {
		opt.Src = args[len(args)-1]
	}
	if opt.InitHeap > opt.MaxHeap {
		return opt, fmt.Errorf("initial heap size %s exceeds maximum heap size %s", opt.InitHeap, opt.MaxHeap)
	}
	return opt, nil
}

// set assigns the value of a flag that takes an argument.
func (opt *Options) set(flag, arg string) error {
	var err error
	switch flag {
	case "-c":
		// Already applied.
	case "-o":
		opt.Out = arg
	case "-memprofile":
		opt.MemProfile = arg
	case "-t", "-gct":
		t, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("expected integer thread count, got: %s", arg)
		}
		if t < 1 || t > maxThreads {
			return fmt.Errorf("thread count must be integer in range [1, %d]", maxThreads)
		}
		if flag == "-t" {
			opt.Threads = t
		} else {
			opt.GCThreads = t
		}
	case "-arch":
		opt.TargetArch, err = ParseArch(arg)
	case "-scheme":
		opt.Scheme, err = ParseScheme(arg)
	case "-Xms":
		opt.InitHeap, err = ParseSize(arg)
	case "-Xmx":
		opt.MaxHeap, err = ParseSize(arg)
	case "-tlab":
		opt.TLABSize, err = ParseSize(arg)
	}
	return err
}

// ParseArch returns the architecture identifier of the string s.
func ParseArch(s string) (int, error) {
	switch s {
	case "amd64", "x86_64":
		return X86_64, nil
	case "aarch64", "arm64":
		return Aarch64, nil
	case "riscv64":
		return Riscv64, nil
	}
	return UnknownArch, fmt.Errorf("unexpected architecture identifier: %s", s)
}

// ParseScheme returns the heap scheme identifier of the string s.
func ParseScheme(s string) (int, error) {
	switch s {
	case "mse", "marksweep":
		return MarkSweep, nil
	case "belt", "beltway":
		return Belt, nil
	}
	return MarkSweep, fmt.Errorf("unexpected heap scheme: %s", s)
}

// ParseSize parses a memory size such as "64MB", "512k" or "1g". Single letter suffixes follow the -Xmx convention.
func ParseSize(s string) (bytesize.ByteSize, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	if len(t) > 0 && strings.ContainsRune("KMGT", rune(t[len(t)-1])) {
		t += "B"
	}
	if len(t) > 0 && t[len(t)-1] >= '0' && t[len(t)-1] <= '9' {
		t += "B"
	}
	b, err := bytesize.Parse(t)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q: %s", s, err)
	}
	if b <= 0 {
		return 0, fmt.Errorf("memory size must be positive, got %q", s)
	}
	return b, nil
}

// printHelp prints a helpful usage message to stdout.
func printHelp() {
	w := tabwriter.NewWriter(os.Stdout, 6, 1, 1, 0, 0)
	_, _ = fmt.Fprintln(w, "-h, -help\tPrints this help message and exits the application.")
	_, _ = fmt.Fprintln(w, "--h, --help")
	_, _ = fmt.Fprintln(w, "-c\tPath to a YAML configuration file. Flags override its values.")
	_, _ = fmt.Fprintln(w, "-ll\tSource file is LLVM IR: allocate registers for its functions.")
	_, _ = fmt.Fprintln(w, "-gc\tSource file is a mutator workload script: run it on the heap.")
	_, _ = fmt.Fprintln(w, "-o\tPath and name of the output file.")
	_, _ = fmt.Fprintf(w, "-t\tNumber of compiler threads. Must be in range [1, %d].\n", maxThreads)
	_, _ = fmt.Fprintf(w, "-gct\tNumber of parallel scavenger threads. Must be in range [1, %d].\n", maxThreads)
	_, _ = fmt.Fprintln(w, "-arch\tTarget architecture: 'amd64', 'aarch64' or 'riscv64'. Defaults to 'amd64'.")
	_, _ = fmt.Fprintln(w, "-adapters\tMethods are compiled with adapter frames.")
	_, _ = fmt.Fprintln(w, "-debug\tRemove redundant instructions after register allocation.")
	_, _ = fmt.Fprintln(w, "-scheme\tHeap scheme: 'mse' or 'belt'. Defaults to 'mse'.")
	_, _ = fmt.Fprintln(w, "-Xms, -Xmx\tInitial and maximum heap size, e.g. 16m or 1GB.")
	_, _ = fmt.Fprintln(w, "-tlab\tSize of thread local allocation buffers.")
	_, _ = fmt.Fprintln(w, "-memprofile\tWrite a pprof profile of the live heap after the workload.")
	_, _ = fmt.Fprintln(w, "-ts\tOutput the tokens of the EIR source and exit.")
	_, _ = fmt.Fprintln(w, "-v, -version\tPrints application version and exits the application.")
	_, _ = fmt.Fprintln(w, "--v, --version")
	_, _ = fmt.Fprintln(w, "-vb\tVerbose mode: print statistics to stderr.")
	_ = w.Flush()
}
