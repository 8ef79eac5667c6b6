package azerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAndCodeOf(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(Timeout, "tunnel readiness timed out", base)

	assert.True(t, Is(wrapped, Timeout))
	assert.False(t, Is(wrapped, AuthFailed))
	assert.Equal(t, Timeout, CodeOf(wrapped))
	assert.Equal(t, InternalError, CodeOf(base))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("connection reset")
	wrapped := Wrap(NetworkUnreachable, "ssh probe failed", base)
	assert.ErrorIs(t, wrapped, base)
}

func TestClassifyStderr(t *testing.T) {
	cases := []struct {
		stderr string
		want   Code
	}{
		{"Error: ResourceNotFound: vm not found", ResourceNotFound},
		{"az: AuthenticationFailed, please run az login", AuthFailed},
		{"Forbidden: insufficient privileges", InsufficientPermissions},
		{"bind: address already in use", PortInUse},
		{"dial tcp: no route to host", NetworkUnreachable},
		{"operation timed out after 30s", Timeout},
		{"QuotaExceeded for this subscription", QuotaExceeded},
		{"some completely novel failure", InternalError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyStderr(c.stderr), c.stderr)
	}
}
