package agent

import (
	"github.com/loom-agent/loom/skills"
)

// defaultSystemPrompt is used when the session config does not override it.
const defaultSystemPrompt = `You are a capable assistant embedded in a client application.

You have a private workspace filesystem available through tools:
- read: read a file
- write: create or replace a file
- edit: replace an exact text occurrence in a file
- list: enumerate file paths under a prefix

Use tools when they help you answer accurately. When a task matches an
available skill, load the skill before proceeding. Keep answers concise and
grounded in what you actually observed.`

// composeSystemPrompt joins the base prompt with the skill listing. With no
// skills registered the base prompt is returned untouched, with no trailing
// addition.
func composeSystemPrompt(base string, reg *skills.Registry) string {
	if base == "" {
		base = defaultSystemPrompt
	}
	fragment := reg.SystemPromptFragment()
	if fragment == "" {
		return base
	}
	return base + "\n\n" + fragment
}
