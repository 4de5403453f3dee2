// Package analysis provides lightweight text analysis used across the
// engine: tokenization, keyword extraction, named-entity spotting,
// lexicon-based sentiment, and set-overlap similarity.
//
// Everything here is a pure function over the input text. No external
// models are involved, which keeps scoring and ranking synchronous CPU
// work with no suspension points.
package analysis

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// stopwords are excluded from keyword extraction.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "had": {}, "has": {},
	"have": {}, "he": {}, "her": {}, "his": {}, "i": {}, "if": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "me": {}, "my": {}, "of": {}, "on": {},
	"or": {}, "our": {}, "she": {}, "so": {}, "that": {}, "the": {},
	"their": {}, "them": {}, "then": {}, "there": {}, "they": {}, "this": {},
	"to": {}, "was": {}, "we": {}, "were": {}, "what": {}, "when": {},
	"which": {}, "who": {}, "will": {}, "with": {}, "would": {}, "you": {},
	"your": {}, "not": {}, "no": {}, "do": {}, "does": {}, "did": {},
}

// positiveWords and negativeWords form the sentiment lexicon.
var positiveWords = map[string]struct{}{
	"good": {}, "great": {}, "excellent": {}, "happy": {}, "love": {},
	"like": {}, "enjoy": {}, "wonderful": {}, "amazing": {}, "fantastic": {},
	"excited": {}, "glad": {}, "pleased": {}, "awesome": {}, "perfect": {},
	"best": {}, "joy": {}, "success": {}, "successful": {}, "thanks": {},
	"thank": {}, "helpful": {},
}

var negativeWords = map[string]struct{}{
	"bad": {}, "terrible": {}, "awful": {}, "sad": {}, "hate": {},
	"dislike": {}, "angry": {}, "upset": {}, "horrible": {}, "worst": {},
	"fail": {}, "failed": {}, "failure": {}, "problem": {}, "broken": {},
	"wrong": {}, "annoyed": {}, "frustrated": {}, "worried": {},
	"scared": {}, "fear": {}, "sorry": {},
}

var entityPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*)*\b`)

// Tokenize splits text into lowercase word tokens, stripping punctuation.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Keywords extracts content-bearing terms: lowercase tokens with
// stopwords and single-character tokens removed, deduplicated in order of
// first appearance.
func Keywords(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	keywords := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) < 2 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}

// Entities extracts capitalized spans as candidate named entities.
//
// A span is one or more consecutive capitalized words ("Paris", "New
// York"). Sentence-leading words that are common stopwords when lowered
// are skipped to cut false positives.
func Entities(text string) []string {
	matches := entityPattern.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	entities := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) < 2 {
			continue
		}
		if _, stop := stopwords[strings.ToLower(m)]; stop {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		entities = append(entities, m)
	}
	return entities
}

// Sentiment scores the emotional polarity of text in [-1,1] using the
// built-in lexicon: +1 strongly positive, -1 strongly negative, 0 neutral.
func Sentiment(text string) float64 {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}
	var pos, neg int
	for _, tok := range tokens {
		if _, ok := positiveWords[tok]; ok {
			pos++
		}
		if _, ok := negativeWords[tok]; ok {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0
	}
	score := float64(pos-neg) / float64(total)
	// Dampen single-hit texts so one lexicon word does not read as
	// maximum intensity.
	if total == 1 {
		score *= 0.6
	}
	return score
}

// Topics returns the most frequent keywords of the text, up to max.
func Topics(text string, max int) []string {
	tokens := Tokenize(text)
	counts := make(map[string]int)
	for _, tok := range tokens {
		if len(tok) < 2 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		counts[tok]++
	}
	topics := make([]string, 0, len(counts))
	for t := range counts {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})
	if max > 0 && len(topics) > max {
		topics = topics[:max]
	}
	return topics
}

// Jaccard computes the Jaccard similarity of two string sets: the size of
// the intersection over the size of the union. Two empty sets score 0.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[s] = struct{}{}
	}
	var intersection int
	for s := range setA {
		if _, ok := setB[s]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// TokenJaccard computes the Jaccard similarity of the token sets of two
// texts. Used by consolidation to detect near-duplicate content.
func TokenJaccard(a, b string) float64 {
	return Jaccard(Tokenize(a), Tokenize(b))
}

// OverlapRatio returns the fraction of query terms that also appear in
// the candidate set, in [0,1].
func OverlapRatio(query, candidate []string) float64 {
	if len(query) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(candidate))
	for _, s := range candidate {
		set[s] = struct{}{}
	}
	var hits int
	for _, q := range query {
		if _, ok := set[q]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// Sentences splits text into sentences on terminal punctuation.
func Sentences(text string) []string {
	var sentences []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
