package backend

import (
	"errors"

	"maxvm/src/backend/amd64"
	"maxvm/src/backend/arm"
	"maxvm/src/backend/regfile"
	"maxvm/src/backend/riscv"
	"maxvm/src/util"
)

// ---------------------
// ----- Functions -----
// ---------------------

// Architecture returns the register file and calling convention of the architecture defined by opt.
func Architecture(opt util.Options) (regfile.Architecture, error) {
	switch opt.TargetArch {
	case util.X86_64:
		return amd64.New(), nil
	case util.Aarch64:
		return arm.New(), nil
	case util.Riscv64:
		return riscv.New(), nil
	default:
		return nil, errors.New("unsupported target architecture")
	}
}
