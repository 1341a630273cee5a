package usecase

import (
	"strings"

	"codetapasya-backend/internal/domain"
)

var (
	greetingKeywords = []string{"hello", "hi", "hey", "hola", "namaste", "good morning", "good afternoon"}
	identityPhrases  = []string{"who are you", "what are you", "do you know me", "who is this"}
	technicalTerms   = []string{"python", "javascript", "code", "function", "error", "debug", "help", "learn", "tutorial"}
)

const shortQuestionMaxTokens = 3

// Classify assigns an intent to message. priorTurnCount is the number of
// turns already stored for the conversation. Classify is total.
func Classify(message string, priorTurnCount int) domain.Intent {
	lower := strings.ToLower(message)
	words := tokenize(lower)

	greeting := containsAnyPhrase(words, greetingKeywords)
	switch {
	case greeting && priorTurnCount <= 0:
		return domain.IntentFirstGreeting
	case greeting:
		return domain.IntentRepeatedGreeting
	case containsAny(lower, identityPhrases):
		return domain.IntentIdentityQuestion
	case containsAny(lower, technicalTerms):
		return domain.IntentTechnicalQuestion
	case len(strings.Fields(lower)) <= shortQuestionMaxTokens:
		return domain.IntentShortQuestion
	default:
		return domain.IntentGeneralQuestion
	}
}

// tokenize splits s into runs of letters and digits so that "hi!" matches
// "hi" while "this" does not.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !isWordRune(r)
	})
}

func isWordRune(r rune) bool {
	return r == '\'' || r == '_' ||
		(r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
		r > 0x7f
}

// containsAnyPhrase reports whether any phrase occurs as a contiguous run of
// whole words.
func containsAnyPhrase(words []string, phrases []string) bool {
	for _, p := range phrases {
		parts := strings.Fields(p)
		for i := 0; i+len(parts) <= len(words); i++ {
			match := true
			for j, part := range parts {
				if words[i+j] != part {
					match = false
					break
				}
			}
			if match {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
