package choice

import (
	"fmt"
	"strings"

	"github.com/hrygo/dialogued/store"
)

// QuestionGenerator renders a disambiguation question whose phrasing
// escalates in specificity the more times a session has failed to resolve
// the same ambiguity, rather than repeating a static numbered list forever.
type QuestionGenerator struct{}

// NewQuestionGenerator returns a stateless QuestionGenerator.
func NewQuestionGenerator() *QuestionGenerator { return &QuestionGenerator{} }

// Generate renders a question for candidates. retryCount is how many times
// this same ambiguity has already failed to resolve (0 on the first ask).
func (g *QuestionGenerator) Generate(candidates []store.CandidateIntent, retryCount int) string {
	if len(candidates) == 0 {
		return "Sorry, I'm not sure what you'd like to do. Could you describe it differently?"
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		label := c.DisplayName
		if label == "" {
			label = c.Name
		}
		names[i] = fmt.Sprintf("%d. %s", i+1, label)
	}

	switch {
	case retryCount <= 0:
		return fmt.Sprintf("I found a few things you might mean:\n%s\nWhich one did you mean?", strings.Join(names, "\n"))
	case retryCount == 1:
		return fmt.Sprintf("Let's narrow it down — please reply with just the number:\n%s", strings.Join(names, "\n"))
	case retryCount == 2:
		if len(candidates) > 1 {
			top := candidates[0]
			label := top.DisplayName
			if label == "" {
				label = top.Name
			}
			return fmt.Sprintf("Just to confirm: did you mean %q? Reply yes or no, or type the number from this list:\n%s", label, strings.Join(names, "\n"))
		}
		return strings.Join(names, "\n")
	default:
		return "I still couldn't tell which option you meant, so I'll fall back to a general answer instead."
	}
}
