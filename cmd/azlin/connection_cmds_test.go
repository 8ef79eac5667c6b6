package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCpSpecLocal(t *testing.T) {
	s := parseCpSpec("/home/user/file.txt")
	assert.False(t, s.IsRemote)
	assert.Equal(t, "/home/user/file.txt", s.Path)
}

func TestParseCpSpecRemote(t *testing.T) {
	s := parseCpSpec("vm1:/home/azlin/file.txt")
	assert.True(t, s.IsRemote)
	assert.Equal(t, "vm1", s.VM)
	assert.Equal(t, "/home/azlin/file.txt", s.Path)
}

func TestParseCpSpecWindowsStyleDriveLetterTreatedAsRemote(t *testing.T) {
	// A single-letter prefix before ':' never matches a real VM name azlin
	// provisions (names come from --name, always multi-character in
	// practice), but parseCpSpec itself only distinguishes on ':' presence.
	s := parseCpSpec("C:/Users/file.txt")
	assert.True(t, s.IsRemote)
	assert.Equal(t, "C", s.VM)
}
