// Package strategy implements spec §9's flattening of the source's
// runtime-polymorphic CLI-executor hierarchy into one tagged variant with
// a single Execute operation.
package strategy

import "context"

// Kind enumerates the supported execution strategies.
type Kind string

const (
	CloudA_CLI Kind = "cloud_a_cli" // az CLI, the only one azlin's drivers implement today
	CloudB_CLI Kind = "cloud_b_cli"
	Terraform  Kind = "terraform"
	Pulumi     Kind = "pulumi"
)

// Context is the input to Execute: an opaque command plus args, since
// every strategy variant ultimately shells out to its own tool.
type Context struct {
	Command string
	Args    []string
}

// Result is what Execute returns.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts "shell out and capture output" so every Strategy
// variant can share one implementation of Execute.
type Runner func(ctx context.Context, command string, args ...string) (Result, error)

// Strategy is a flat record: a Kind, a CanHandle predicate, and a pure
// Execute function — no deep hierarchy, per spec §9.
type Strategy struct {
	Kind      Kind
	CanHandle func(c Context) bool
	run       Runner
}

// New builds a Strategy of the given kind backed by run.
func New(kind Kind, canHandle func(Context) bool, run Runner) Strategy {
	return Strategy{Kind: kind, CanHandle: canHandle, run: run}
}

// Execute runs c through the strategy's runner.
func (s Strategy) Execute(ctx context.Context, c Context) (Result, error) {
	return s.run(ctx, c.Command, c.Args...)
}

// Select returns the first strategy in variants whose CanHandle accepts c.
func Select(variants []Strategy, c Context) (Strategy, bool) {
	for _, v := range variants {
		if v.CanHandle(c) {
			return v, true
		}
	}
	return Strategy{}, false
}
