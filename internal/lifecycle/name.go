package lifecycle

import (
	"fmt"

	"github.com/vexxhost/azlin/internal/azerr"
)

func isAlnumASCII(r byte) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// ValidateVMName enforces the bit-exact naming rule of spec §4.1: length
// 1-64, starts and ends with an ASCII alphanumeric, body restricted to
// [A-Za-z0-9.-]. Every rejection reason begins with one of the five fixed
// phrases spec §8 names, so callers and tests can match on prefix alone.
func ValidateVMName(name string) error {
	if len(name) == 0 {
		return azerr.New(azerr.ValidationError, "VM name cannot be empty")
	}
	if len(name) > 64 {
		return azerr.New(azerr.ValidationError, fmt.Sprintf("Name too long (%d characters, max 64)", len(name)))
	}
	if !isAlnumASCII(name[0]) {
		return azerr.New(azerr.ValidationError, "must start with alphanumeric character")
	}
	last := name[len(name)-1]
	if !isAlnumASCII(last) {
		return azerr.New(azerr.ValidationError, fmt.Sprintf("cannot end with %q", string(last)))
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isAlnumASCII(c) || c == '.' || c == '-' {
			continue
		}
		return azerr.New(azerr.ValidationError, fmt.Sprintf("can only contain alphanumeric characters, '.', and '-' (found %q)", string(c)))
	}
	return nil
}
