// Package llm abstracts the language-model provider used for rule
// synthesis and incident embedding.
package llm

import "context"

// Generator produces completion text from a prompt pair.
type Generator interface {
	// Generate returns the model's completion for the given system and
	// user prompts.
	Generate(ctx context.Context, system, user string) (string, error)
}

// Embedder turns texts into fixed-dimension vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
