package chunker

import (
	"regexp"
	"strings"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

// Phrase lists for heuristic annotation flags. Deliberately minimal; the
// flags are retrieval hints, not classifiers.
var (
	preferencePhrases = []string{
		"prefer ", "my preference", "i like ", "i would rather",
		"we prefer", "we use ", "default to", "i want ",
	}
	designPhrases = []string{
		"design", "architecture", "pattern", "abstraction", "contract",
		"api", "service", "schema", "storage", "embedding", "index",
	}
	learningPhrases = []string{
		"i learned", "lesson", "note to self", "remember to",
		"next time", "we found out",
	}
	unfinishedPhrases = []string{
		"todo", "wip", "let me", "i'll ", "i will ", "next step", "follow up",
	}

	positiveWords = []string{"great", "good", "nice", "love", "awesome", "cool", "works", "success"}
	negativeWords = []string{"bad", "broken", "fail", "hate", "issue", "bug", "problem", "worse"}
)

var (
	commandRe  = regexp.MustCompile(`\b(just|uv|pip|git|curl|python -m|go test|go build)\b`)
	bulletRe   = regexp.MustCompile(`^\s*(?:[-*]\s|\d+\.\s)`)
	headingRe  = regexp.MustCompile(`^\s*(?:###|##|# )`)
	planRe     = regexp.MustCompile(`(?i)\b(Summary:|Steps?:|Plan:|Next:)`)
	linkRe     = regexp.MustCompile(`\bhttps?://`)
	inlineRe   = regexp.MustCompile("`[^`]+`")
	pathRe     = regexp.MustCompile(`\b(src/|internal/|cmd/|\.go\b|\.py\b|\.ts\b|\.md\b)`)
	rationalRe = regexp.MustCompile(`(?i)\b(because|due to|so that|rationale|context)\b`)
)

// Annotate computes the heuristic annotations for one entry's text pair
func Annotate(userText, assistantText string) types.Annotations {
	combined := strings.TrimSpace(userText + "\n" + assistantText)

	return types.Annotations{
		LengthBucket:       lengthBucket(len(combined)),
		HasCode:            strings.Contains(combined, "```") || strings.Contains(combined, "\n    "),
		HasLinks:           strings.Contains(combined, "http://") || strings.Contains(combined, "https://"),
		UserLen:            len(userText),
		AssistantLen:       len(assistantText),
		UserPolarity:       polarity(userText),
		AssistantPolarity:  polarity(assistantText),
		UnfinishedThread:   containsAny(assistantText, unfinishedPhrases) || strings.HasSuffix(strings.TrimSpace(assistantText), "?"),
		HasUsefulOutput:    hasCodeOrCommands(assistantText),
		ContainsPreference: containsAny(combined, preferencePhrases),
		ContainsDesign:     containsAny(combined, designPhrases),
		ContainsLearning:   containsAny(combined, learningPhrases),
		AssistantClarity:   clarityBucket(assistantText),
		AssistantContext:   contextBucket(assistantText),
	}
}

func lengthBucket(n int) types.LengthBucket {
	switch {
	case n < 256:
		return types.LengthShort
	case n < 1024:
		return types.LengthMedium
	default:
		return types.LengthLong
	}
}

func containsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func hasCodeOrCommands(text string) bool {
	return strings.Contains(text, "```") ||
		strings.Contains(text, "\n    ") ||
		commandRe.MatchString(text)
}

func polarity(text string) types.Polarity {
	lower := strings.ToLower(text)
	var pos, neg int
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return types.PolarityPositive
	case neg > pos:
		return types.PolarityNegative
	default:
		return types.PolarityNeutral
	}
}

// clarityBucket grades structure: fenced code, bullets, or headings read
// as organized output; a long unbroken wall of text does not
func clarityBucket(text string) types.QualityBucket {
	if strings.Contains(text, "```") {
		return types.QualityHigh
	}
	for _, line := range strings.Split(text, "\n") {
		if bulletRe.MatchString(line) || headingRe.MatchString(line) {
			return types.QualityHigh
		}
	}
	if planRe.MatchString(text) {
		return types.QualityMedium
	}
	if len(text) > 600 {
		return types.QualityLow
	}
	return types.QualityMedium
}

// contextBucket grades grounding: cited files, links, or rationale cues
func contextBucket(text string) types.QualityBucket {
	if strings.Contains(text, "```") || linkRe.MatchString(text) {
		return types.QualityHigh
	}
	if inlineRe.MatchString(text) {
		return types.QualityMedium
	}
	if pathRe.MatchString(text) {
		return types.QualityHigh
	}
	if rationalRe.MatchString(text) {
		return types.QualityMedium
	}
	return types.QualityLow
}
