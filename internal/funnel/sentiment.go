package funnel

import "strings"

// Keyword lexicons for lightweight user typing. Matching is substring based
// over the lowercased message text; first lexicon with a hit wins.
var (
	skepticalKeywords = []string{
		"scam", "spam", "bot", "fake", "doubt", "suspicious",
		"don't believe", "not sure", "prove", "really?",
	}
	playfulKeywords = []string{
		"haha", "lol", "lmao", ":)", ";)", "funny", "joke",
		"\U0001f602", "\U0001f604", "\U0001f609",
	}
	seriousKeywords = []string{
		"price", "cost", "how much", "details", "terms",
		"conditions", "guarantee", "contract", "invoice",
	}
)

// DetectUserType classifies a message into one of the known user types based
// on keyword lexicons. Messages with no recognizable markers map to the
// default type.
func DetectUserType(text string) string {
	lowered := strings.ToLower(text)

	if containsAny(lowered, skepticalKeywords) {
		return UserTypeSkeptical
	}
	if containsAny(lowered, playfulKeywords) {
		return UserTypePlayful
	}
	if containsAny(lowered, seriousKeywords) {
		return UserTypeSerious
	}

	return DefaultUserType
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}

	return false
}
