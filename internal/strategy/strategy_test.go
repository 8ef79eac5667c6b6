package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectPicksFirstMatchingVariant(t *testing.T) {
	azVariant := New(CloudA_CLI, func(c Context) bool { return c.Command == "az" },
		func(ctx context.Context, cmd string, args ...string) (Result, error) {
			return Result{Stdout: "az-ran"}, nil
		})
	tfVariant := New(Terraform, func(c Context) bool { return c.Command == "terraform" },
		func(ctx context.Context, cmd string, args ...string) (Result, error) {
			return Result{Stdout: "tf-ran"}, nil
		})

	variants := []Strategy{azVariant, tfVariant}

	s, ok := Select(variants, Context{Command: "terraform", Args: []string{"apply"}})
	require.True(t, ok)
	assert.Equal(t, Terraform, s.Kind)

	res, err := s.Execute(context.Background(), Context{Command: "terraform"})
	require.NoError(t, err)
	assert.Equal(t, "tf-ran", res.Stdout)

	_, ok = Select(variants, Context{Command: "pulumi"})
	assert.False(t, ok)
}
