package text

import (
	_ "embed"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var lexiconYAML []byte

// Lexicon holds the stop word list and thesaurus
type Lexicon struct {
	StopWords []string            `yaml:"stop_words"`
	Synonyms  map[string][]string `yaml:"synonyms"`

	stop map[string]bool
}

var (
	defaultLexicon     *Lexicon
	defaultLexiconErr  error
	defaultLexiconOnce sync.Once
)

// DefaultLexicon returns the embedded English lexicon
func DefaultLexicon() (*Lexicon, error) {
	defaultLexiconOnce.Do(func() {
		defaultLexicon, defaultLexiconErr = ParseLexicon(lexiconYAML)
	})
	return defaultLexicon, defaultLexiconErr
}

// ParseLexicon decodes a YAML lexicon. Keys are matched lower-cased.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, err
	}

	lex.stop = make(map[string]bool, len(lex.StopWords))
	for _, w := range lex.StopWords {
		lex.stop[strings.ToLower(w)] = true
	}

	synonyms := make(map[string][]string, len(lex.Synonyms))
	for k, v := range lex.Synonyms {
		synonyms[strings.ToLower(k)] = v
	}
	lex.Synonyms = synonyms
	return &lex, nil
}

// IsStopWord reports whether word is a stop word, ignoring case
func (l *Lexicon) IsStopWord(word string) bool {
	return l.stop[strings.ToLower(word)]
}

// SynonymsOf returns the synonyms of word, ignoring case
func (l *Lexicon) SynonymsOf(word string) []string {
	return l.Synonyms[strings.ToLower(word)]
}

// Words returns the thesaurus head words in sorted order
func (l *Lexicon) Words() []string {
	words := make([]string, 0, len(l.Synonyms))
	for w := range l.Synonyms {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}
