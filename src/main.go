package main

import (
	"fmt"
	"os"

	"maxvm/src/backend"
	"maxvm/src/backend/alloc"
	"maxvm/src/frontend"
	"maxvm/src/heap"
	"maxvm/src/heap/profile"
	"maxvm/src/ir/eir"
	"maxvm/src/ir/llvm"
	"maxvm/src/mutator"
	"maxvm/src/util"
)

func main() {
	// Parse command line arguments.
	opt, err := util.ParseArgs()
	if err != nil {
		fmt.Printf("Command line argument error: %s\n", err)
		os.Exit(1)
	}
	log := util.NewLogger(opt.Verbose)

	// Invariant violations and heap exhaustion end the run.
	defer func() {
		if r := recover(); r != nil {
			fe := util.AsFatal(r)
			if fe == nil {
				panic(r)
			}
			util.Close()
			log.Errorf("%s", fe)
			os.Exit(1)
		}
	}()

	if opt.Workload {
		if err := runWorkload(opt, log); err != nil {
			log.Errorf("%s", err)
			os.Exit(1)
		}
		return
	}

	arch, err := backend.Architecture(opt)
	if err != nil {
		fmt.Printf("Target error: %s\n", err)
		os.Exit(1)
	}

	// Read methods, either from LLVM IR or from EIR text.
	var methods []*eir.Method
	if opt.LLVM {
		if methods, err = llvm.Import(opt.Src, arch); err != nil {
			fmt.Printf("Error reported by LLVM: %s\n", err)
			os.Exit(1)
		}
	} else {
		src, err := util.ReadSource(opt)
		if err != nil {
			fmt.Printf("Could not read source code: %s\n", err)
			os.Exit(1)
		}

		// If -ts flag was passed: output token stream and exit.
		if opt.TokenStream {
			util.ListenWrite(1, nil)
			if err := frontend.TokenStream(src); err != nil {
				util.Close()
				fmt.Printf("Syntax error: %s\n", err)
				os.Exit(1)
			}
			util.Close()
			return
		}

		if methods, err = frontend.Parse(src, arch); err != nil {
			fmt.Printf("Parse error: %s\n", err)
			os.Exit(1)
		}
	}
	if opt.AdapterFrames {
		for _, e1 := range methods {
			e1.SetAdapterFrames(true)
		}
	}

	// Initiate output writer.
	if len(opt.Out) > 0 {
		// Attempt to open output file. Create new file if necessary.
		f, err := os.OpenFile(opt.Out, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		defer func(f *os.File) {
			if err := f.Close(); err != nil {
				fmt.Println(err)
				os.Exit(1)
			}
		}(f)
		util.ListenWrite(opt.Threads, f)
	} else {
		// Write results to stdout.
		util.ListenWrite(opt.Threads, nil)
	}

	alloc.AllocateRegisters(opt, arch, methods, log)

	wr := util.NewWriter()
	for _, e1 := range methods {
		wr.Write("%s\n", e1)
	}
	wr.Close()

	// Stop the output writer.
	util.Close()
}

// runWorkload runs the mutator workload script opt.Src on a fresh heap and optionally writes a live heap profile.
func runWorkload(opt util.Options, log *util.Logger) error {
	w, err := mutator.ParseFile(opt.Src)
	if err != nil {
		return err
	}
	roots := mutator.NewRoots()
	s, err := mutator.NewScheme(opt, roots, log)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := mutator.Run(w, s, roots, log)
	for k, v := range res.Threads {
		log.Debugf("thread %s: %d object(s), %d bytes, %d refill(s)", k, v.Objects, v.Allocated, v.Refills)
	}
	res.Heap.Log(log)
	if err != nil {
		return err
	}

	if len(opt.MemProfile) > 0 {
		// Profile what survives a full collection.
		s.Collect(heap.Explicit, 0)
		f, err := os.Create(opt.MemProfile)
		if err != nil {
			return fmt.Errorf("could not create heap profile: %s", err)
		}
		defer f.Close()
		if err := profile.Write(f, s); err != nil {
			return fmt.Errorf("could not write heap profile: %s", err)
		}
	}
	return nil
}
