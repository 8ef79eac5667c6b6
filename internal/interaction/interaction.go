// Package interaction implements the InteractionHandler capability named
// in spec §9: a single seam every user prompt in the Resource Decision
// Orchestrator goes through, with an interactive and a non-interactive
// concrete implementation so §4.6's flow is fully deterministic in tests.
package interaction

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Choice is one option offered to the user in a decision prompt.
type Choice string

const (
	ChoiceCreate      Choice = "create"
	ChoiceUseExisting Choice = "use_existing"
	ChoiceSkip        Choice = "skip"
	ChoiceCancel      Choice = "cancel"
)

// Prompt describes one decision point: a message, the offered choices in
// order, and which one is the default (returned immediately in
// non-interactive mode, and on a bare Enter in interactive mode).
type Prompt struct {
	Message string
	Choices []Choice
	Default Choice
}

// Handler is the InteractionHandler capability.
type Handler interface {
	Ask(p Prompt) (Choice, error)
	// Confirm asks a yes/no question, defaulting to defaultYes.
	Confirm(message string, defaultYes bool) (bool, error)
}

// NonInteractive always resolves to the prompt's documented default,
// matching spec §5 ("user prompts ... immediately resolved to defaults in
// non-interactive mode") and AZLIN_NONINTERACTIVE=1 from spec §6.
type NonInteractive struct{}

func (NonInteractive) Ask(p Prompt) (Choice, error) { return p.Default, nil }

func (NonInteractive) Confirm(message string, defaultYes bool) (bool, error) { return defaultYes, nil }

// Interactive reads choices from an input stream (normally stdin),
// printing prompts to an output stream.
type Interactive struct {
	In  io.Reader
	Out io.Writer
}

func NewInteractive(in io.Reader, out io.Writer) *Interactive {
	return &Interactive{In: in, Out: out}
}

func (h *Interactive) Ask(p Prompt) (Choice, error) {
	fmt.Fprintln(h.Out, p.Message)
	for i, c := range p.Choices {
		marker := ""
		if c == p.Default {
			marker = " (default)"
		}
		fmt.Fprintf(h.Out, "  %d) %s%s\n", i+1, c, marker)
	}
	fmt.Fprint(h.Out, "> ")

	scanner := bufio.NewScanner(h.In)
	if !scanner.Scan() {
		return p.Default, nil
	}
	line := strings.TrimSpace(scanner.Text())
	if line == "" {
		return p.Default, nil
	}
	for _, c := range p.Choices {
		if strings.EqualFold(line, string(c)) {
			return c, nil
		}
	}
	return p.Default, nil
}

func (h *Interactive) Confirm(message string, defaultYes bool) (bool, error) {
	suffix := "[Y/n]"
	if !defaultYes {
		suffix = "[y/N]"
	}
	fmt.Fprintf(h.Out, "%s %s ", message, suffix)

	scanner := bufio.NewScanner(h.In)
	if !scanner.Scan() {
		return defaultYes, nil
	}
	line := strings.ToLower(strings.TrimSpace(scanner.Text()))
	switch line {
	case "":
		return defaultYes, nil
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		return defaultYes, nil
	}
}
