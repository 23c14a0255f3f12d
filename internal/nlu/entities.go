package nlu

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+?\d{1,3}[- ]?)?\d{3,4}[- ]?\d{3,4}[- ]?\d{0,4}`)
	numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// extractEntities pulls obvious, regex-recognizable spans (emails, phone
// numbers, bare numbers) out of raw text. It is intentionally shallow: real
// slot extraction and normalization happens downstream in the slot
// transformer, this only hands it candidate spans to work with.
func extractEntities(text string) []Entity {
	var entities []Entity

	if loc := emailPattern.FindStringIndex(text); loc != nil {
		entities = append(entities, Entity{
			Name: "email", Value: text[loc[0]:loc[1]], Confidence: 0.9,
			Span: [2]int{loc[0], loc[1]},
		})
	}
	if loc := phonePattern.FindStringIndex(text); loc != nil {
		entities = append(entities, Entity{
			Name: "phone", Value: text[loc[0]:loc[1]], Confidence: 0.6,
			Span: [2]int{loc[0], loc[1]},
		})
	}
	for _, loc := range numberPattern.FindAllStringIndex(text, -1) {
		entities = append(entities, Entity{
			Name: "number", Value: text[loc[0]:loc[1]], Confidence: 0.7,
			Span: [2]int{loc[0], loc[1]},
		})
	}

	return entities
}
