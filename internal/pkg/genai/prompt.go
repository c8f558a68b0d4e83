package genai

import "fmt"

// Perturbation phrases appended on repeated attempts so variations do not
// come out near-identical.
var perturbations = []string{
	"alternate composition, slightly different framing",
	"softer lighting, shifted color balance",
	"different camera angle, varied depth of field",
}

// PerturbPrompt returns the prompt to use for the given attempt (0-based).
// Attempt 0 uses the prompt as-is; later attempts append a perturbation
// phrase cycled from a fixed table.
func PerturbPrompt(prompt string, attempt int) string {
	if attempt <= 0 {
		return prompt
	}
	phrase := perturbations[(attempt-1)%len(perturbations)]
	return fmt.Sprintf("%s, %s", prompt, phrase)
}
