// Package prompt formats benchmark items into model prompts and assembles
// repetition patterns. Templates are embedded with override support.
package prompt

import "embed"

//go:embed templates/*.md
var embeddedFS embed.FS
