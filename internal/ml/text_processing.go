package ml

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
	"gonum.org/v1/gonum/floats"
)

var (
	nonAlphanumeric = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespace      = regexp.MustCompile(`\s+`)
)

// TextProcessor cleans and tokenizes item text for the vector builders.
type TextProcessor struct {
	stopWords map[string]bool
}

// NewTextProcessor creates a processor using the English stop-word list.
func NewTextProcessor() *TextProcessor {
	return &TextProcessor{stopWords: initializeStopWords()}
}

// Clean lowercases text, drops everything but letters, digits and spaces,
// and collapses whitespace.
func (tp *TextProcessor) Clean(text string) string {
	cleaned := norm.NFC.String(strings.ToLower(text))
	cleaned = nonAlphanumeric.ReplaceAllString(cleaned, " ")
	cleaned = whitespace.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// Tokenize returns the cleaned tokens of text that are at least two
// characters long and not stop words.
func (tp *TextProcessor) Tokenize(text string) []string {
	words := strings.Fields(tp.Clean(text))
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 || tp.stopWords[w] {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// Terms returns unigrams followed by bigrams of the tokens of text.
func (tp *TextProcessor) Terms(text string) []string {
	tokens := tp.Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	terms := make([]string, 0, 2*len(tokens)-1)
	terms = append(terms, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		terms = append(terms, tokens[i]+" "+tokens[i+1])
	}
	return terms
}

// TFIDFConfig contains configuration for the TF-IDF vectorizer.
type TFIDFConfig struct {
	MaxFeatures int `json:"max_features" mapstructure:"max_features" validate:"min=1"`
}

// DefaultTFIDFConfig returns the default vectorizer configuration.
func DefaultTFIDFConfig() TFIDFConfig {
	return TFIDFConfig{MaxFeatures: 5000}
}

// TFIDFVectorizer learns a unigram+bigram vocabulary capped at MaxFeatures
// terms by corpus frequency, with smoothed idf
//
//	idf(t) = ln((1 + n) / (1 + df(t))) + 1
//
// Rows are L2-normalized raw term counts times idf.
type TFIDFVectorizer struct {
	config    TFIDFConfig
	processor *TextProcessor
	logger    *logrus.Logger

	vocabulary map[string]int
	terms      []string
	idf        []float64
}

// NewTFIDFVectorizer creates an unfitted vectorizer.
func NewTFIDFVectorizer(cfg TFIDFConfig, processor *TextProcessor, logger *logrus.Logger) *TFIDFVectorizer {
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = DefaultTFIDFConfig().MaxFeatures
	}
	if processor == nil {
		processor = NewTextProcessor()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TFIDFVectorizer{config: cfg, processor: processor, logger: logger}
}

// FitTransform learns the vocabulary from docs and returns one vector per doc.
func (v *TFIDFVectorizer) FitTransform(docs []string) [][]float64 {
	termDocs := make([][]string, len(docs))
	totals := make(map[string]int)
	df := make(map[string]int)
	for i, doc := range docs {
		termDocs[i] = v.processor.Terms(doc)
		seen := make(map[string]bool, len(termDocs[i]))
		for _, t := range termDocs[i] {
			totals[t]++
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	candidates := make([]string, 0, len(totals))
	for t := range totals {
		candidates = append(candidates, t)
	}
	sort.Strings(candidates)
	if len(candidates) > v.config.MaxFeatures {
		sort.SliceStable(candidates, func(i, j int) bool {
			return totals[candidates[i]] > totals[candidates[j]]
		})
		candidates = candidates[:v.config.MaxFeatures]
		sort.Strings(candidates)
	}

	n := float64(len(docs))
	v.terms = candidates
	v.vocabulary = make(map[string]int, len(candidates))
	v.idf = make([]float64, len(candidates))
	for i, t := range candidates {
		v.vocabulary[t] = i
		v.idf[i] = math.Log((1+n)/(1+float64(df[t]))) + 1
	}

	v.logger.WithFields(logrus.Fields{
		"documents":  len(docs),
		"vocabulary": len(v.terms),
	}).Debug("TF-IDF vocabulary fitted")

	out := make([][]float64, len(docs))
	for i, terms := range termDocs {
		out[i] = v.vectorize(terms)
	}
	return out
}

// Transform vectorizes doc with the fitted vocabulary.
func (v *TFIDFVectorizer) Transform(doc string) []float64 {
	return v.vectorize(v.processor.Terms(doc))
}

// Vocabulary returns the fitted terms in column order.
func (v *TFIDFVectorizer) Vocabulary() []string {
	out := make([]string, len(v.terms))
	copy(out, v.terms)
	return out
}

func (v *TFIDFVectorizer) vectorize(terms []string) []float64 {
	vec := make([]float64, len(v.terms))
	for _, t := range terms {
		if col, ok := v.vocabulary[t]; ok {
			vec[col]++
		}
	}
	for i := range vec {
		vec[i] *= v.idf[i]
	}
	if norm := floats.Norm(vec, 2); norm > 0 {
		floats.Scale(1/norm, vec)
	}
	return vec
}

func initializeStopWords() map[string]bool {
	stopWords := []string{
		"a", "about", "above", "after", "again", "against", "all", "also", "am", "an",
		"and", "any", "are", "as", "at", "be", "because", "been", "before", "being",
		"below", "between", "both", "but", "by", "can", "cannot", "could", "did", "do",
		"does", "doing", "down", "during", "each", "either", "else", "ever", "every", "few",
		"for", "from", "further", "had", "has", "have", "having", "he", "her", "here",
		"hers", "herself", "him", "himself", "his", "how", "however", "if", "in", "into",
		"is", "it", "its", "itself", "just", "least", "less", "many", "may", "me",
		"might", "more", "most", "much", "must", "my", "myself", "neither", "no", "nor",
		"not", "now", "of", "off", "often", "on", "once", "only", "or", "other",
		"our", "ours", "ourselves", "out", "over", "own", "per", "rather", "said", "same",
		"she", "should", "since", "so", "some", "still", "such", "than", "that", "the",
		"their", "theirs", "them", "themselves", "then", "there", "these", "they", "this", "those",
		"though", "through", "thus", "to", "too", "under", "until", "up", "upon", "us",
		"very", "was", "we", "were", "what", "when", "where", "whether", "which", "while",
		"who", "whom", "whose", "why", "will", "with", "within", "without", "would", "yet",
		"you", "your", "yours", "yourself", "yourselves",
	}

	stopWordMap := make(map[string]bool, len(stopWords))
	for _, word := range stopWords {
		stopWordMap[word] = true
	}
	return stopWordMap
}
