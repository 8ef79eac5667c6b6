package lifecycle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateVMNameAccepts(t *testing.T) {
	for _, name := range []string{"a", "vm1", "dev-box.01", strings.Repeat("a", 64)} {
		assert.NoError(t, ValidateVMName(name), name)
	}
}

func TestValidateVMNameRejectsEmpty(t *testing.T) {
	err := ValidateVMName("")
	assert.ErrorContains(t, err, "VM name cannot be empty")
}

func TestValidateVMNameRejectsTooLong(t *testing.T) {
	err := ValidateVMName(strings.Repeat("a", 65))
	assert.ErrorContains(t, err, "Name too long")
}

func TestValidateVMNameRejectsBadStart(t *testing.T) {
	err := ValidateVMName("-vm1")
	assert.ErrorContains(t, err, "must start with alphanumeric")
}

func TestValidateVMNameRejectsBadEnd(t *testing.T) {
	err := ValidateVMName("vm1-")
	assert.ErrorContains(t, err, "cannot end with")

	err = ValidateVMName("vm1.")
	assert.ErrorContains(t, err, "cannot end with")
}

func TestValidateVMNameRejectsUnderscoreAndUnicode(t *testing.T) {
	err := ValidateVMName("vm_1")
	assert.ErrorContains(t, err, "can only contain")

	err = ValidateVMName("vmü1")
	assert.ErrorContains(t, err, "can only contain")
}

func TestValidateVMNameBoundaryLengths(t *testing.T) {
	assert.NoError(t, ValidateVMName(strings.Repeat("a", 64)))
	assert.Error(t, ValidateVMName(strings.Repeat("a", 65)))
}
