// Package sentiment is a keyword classifier used when the model-backed
// classifier is switched off.
package sentiment

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zhouzirui/chatty/backend/internal/contract"
)

var keywordBuckets = map[contract.Sentiment][]string{
	contract.Positive: {
		"love", "great", "awesome", "amazing", "thanks", "thank you", "happy", "glad", "excellent",
		"wonderful", "fantastic", "nice", "cool", "perfect", "brilliant", "enjoy", "excited", "lol",
		"开心", "高兴", "喜欢", "太好了", "太棒了", "谢谢", "满意", "哈哈",
	},
	contract.Negative: {
		"hate", "terrible", "awful", "horrible", "sad", "angry", "upset", "annoyed", "furious",
		"disappointed", "worst", "bad", "broken", "useless", "frustrated", "depressed", "cry", "hurt",
		"难过", "伤心", "生气", "愤怒", "失望", "沮丧", "烦死", "受够了",
	},
}

// negationWindow is how many words after a negation it still applies to.
const negationWindow = 2

var negationWords = map[string]bool{"not": true, "no": true, "never": true, "cannot": true, "without": true}

// cjkNegations flip a CJK keyword they directly precede.
var cjkNegations = []string{"不", "没", "没有"}

// Decision is the heuristic verdict with its raw score.
type Decision struct {
	Label contract.Sentiment
	Score int
}

// Analyze scores text against the keyword buckets, clause by clause. A negation
// only flips the keyword that follows it closely in the same clause. Ties and
// texts without any signal are Neutral.
func Analyze(text string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Decision{Label: contract.Neutral}
	}
	normalized = strings.ReplaceAll(normalized, "’", "'")

	scores := make(map[contract.Sentiment]int, 2)
	for _, clause := range strings.FieldsFunc(normalized, isClauseBreak) {
		scoreClause(clause, scores)
	}

	if exclamations := strings.Count(text, "!"); exclamations > 0 && scores[contract.Positive] > 0 {
		scores[contract.Positive] += exclamations
	}

	pos, neg := scores[contract.Positive], scores[contract.Negative]
	switch {
	case pos > neg:
		return Decision{Label: contract.Positive, Score: pos - neg}
	case neg > pos:
		return Decision{Label: contract.Negative, Score: neg - pos}
	default:
		return Decision{Label: contract.Neutral}
	}
}

func scoreClause(clause string, scores map[contract.Sentiment]int) {
	words := strings.FieldsFunc(clause, isWordBreak)
	for label, keywords := range keywordBuckets {
		for _, keyword := range keywords {
			var hits, negated int
			if isASCII(keyword) {
				hits, negated = matchWords(words, strings.Fields(keyword))
			} else {
				hits, negated = matchCJK(clause, keyword)
			}
			scores[label] += 3 * (hits - negated)
			scores[opposite(label)] += 3 * negated
		}
	}
}

// matchWords counts whole-word occurrences of phrase and how many of them
// follow a negation within negationWindow words.
func matchWords(words, phrase []string) (hits, negated int) {
	for i := 0; i+len(phrase) <= len(words); i++ {
		if !equalWords(words[i:i+len(phrase)], phrase) {
			continue
		}
		hits++
		for j := max(0, i-negationWindow); j < i; j++ {
			if isNegation(words[j]) {
				negated++
				break
			}
		}
	}
	return hits, negated
}

func matchCJK(clause, keyword string) (hits, negated int) {
	rest := clause
	for {
		idx := strings.Index(rest, keyword)
		if idx < 0 {
			return hits, negated
		}
		hits++
		for _, n := range cjkNegations {
			if strings.HasSuffix(rest[:idx], n) {
				negated++
				break
			}
		}
		rest = rest[idx+len(keyword):]
	}
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isNegation(word string) bool {
	return negationWords[word] || strings.HasSuffix(word, "n't")
}

func opposite(label contract.Sentiment) contract.Sentiment {
	if label == contract.Positive {
		return contract.Negative
	}
	return contract.Positive
}

func isClauseBreak(r rune) bool {
	return strings.ContainsRune(",.;:!?\n，。；：！？、", r)
}

func isWordBreak(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Heuristic adapts Analyze to the classifier interface used by the
// orchestrator.
type Heuristic struct{}

// AnalyzeSentiment never fails for valid input.
func (Heuristic) AnalyzeSentiment(_ context.Context, in contract.SentimentInput) (contract.SentimentOutput, error) {
	if err := in.Validate(); err != nil {
		return contract.SentimentOutput{}, err
	}
	return contract.SentimentOutput{Sentiment: Analyze(in.Text).Label}, nil
}
