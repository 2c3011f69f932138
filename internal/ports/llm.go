package ports

import "context"

// CodeGenerator produces rendering scripts from a language model.
type CodeGenerator interface {
	// Generate asks for a script implementing prompt.
	Generate(ctx context.Context, prompt string) (string, error)
	// Fix asks for a corrected version of code given the failure output it produced.
	Fix(ctx context.Context, prompt, code, failure string) (string, error)
}
