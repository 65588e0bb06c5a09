package text

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/pkg/errors"

	"github.com/msto63/mediaprep/internal/pipeline"
)

// MaskFiller predicts the most likely token for the MaskToken in masked
type MaskFiller interface {
	FillMask(ctx context.Context, masked string) (string, error)
}

// maxWords bounds n_words so a request cannot blow up the text
const maxWords = 1000

// Draft is the payload of the augmentation pipeline. Details describe the
// edits made by the most recent step only.
type Draft struct {
	Words   []string
	Details []string
}

// DraftSnapshot is the trace value of one augmentation step
type DraftSnapshot struct {
	Text    string   `json:"text"`
	Details []string `json:"details"`
}

// AugmentResult is the response of the text augmentation pipeline
type AugmentResult struct {
	Steps         pipeline.Trace `json:"augmentation_steps"`
	Tokens        []string       `json:"tokens"`
	TokenIDs      []int          `json:"token_ids"`
	AugmentedText string         `json:"augmented_text"`
}

// StepTrace returns the executed steps
func (r *AugmentResult) StepTrace() pipeline.Trace {
	return r.Steps
}

// Augmenter runs the text augmentation pipeline. An Augmenter is not safe
// for concurrent use because it owns its random source.
type Augmenter struct {
	pipeline *pipeline.Pipeline[Draft]
	lexicon  *Lexicon
	filler   MaskFiller
	rng      *rand.Rand
}

func countParam(def int) []pipeline.Param {
	return []pipeline.Param{
		{Key: "n_words", Flat: "n_words", Default: def, Help: "number of edits"},
	}
}

// NewAugmenter creates an augmenter. filler may be nil, in which case the
// word replacement step fails with pipeline.ErrUnavailable.
func NewAugmenter(lex *Lexicon, filler MaskFiller, rng *rand.Rand) *Augmenter {
	a := &Augmenter{lexicon: lex, filler: filler, rng: rng}
	a.pipeline = pipeline.New("text.augment", snapshotDraft,
		pipeline.Step[Draft]{
			Key:    "synonym_replacement",
			Label:  "Synonym Replacement",
			Help:   "Replace words with a thesaurus synonym",
			Params: countParam(3),
			Apply:  a.replaceSynonyms,
		},
		pipeline.Step[Draft]{
			Key:    "mlm_replacement",
			Label:  "Word Replacement",
			Help:   "Mask a word and let a language model fill it in",
			Params: countParam(3),
			Apply:  a.replaceMasked,
		},
		pipeline.Step[Draft]{
			Key:    "vocabulary_replacement",
			Label:  "Vocabulary Replacement",
			Help:   "Replace a word with another word of the same text",
			Params: countParam(1),
			Apply:  a.replaceFromVocabulary,
		},
		pipeline.Step[Draft]{
			Key:    "random_insertion",
			Label:  "Random Insertion",
			Help:   "Insert existing words at random positions",
			Params: countParam(3),
			Apply:  a.insertRandom,
		},
		pipeline.Step[Draft]{
			Key:    "random_deletion",
			Label:  "Random Deletion",
			Help:   "Delete random words",
			Params: countParam(2),
			Apply:  a.deleteRandom,
		},
	)
	return a
}

// Name returns the pipeline name
func (a *Augmenter) Name() string {
	return a.pipeline.Name()
}

// Steps describes the pipeline steps
func (a *Augmenter) Steps() []pipeline.StepInfo {
	return a.pipeline.Steps()
}

// Process runs the enabled augmentation steps over the input text
func (a *Augmenter) Process(ctx context.Context, data json.RawMessage, opts pipeline.Options, runOpts ...pipeline.RunOption) (*AugmentResult, error) {
	text, err := DecodeInput(data)
	if err != nil {
		return nil, err
	}

	res, err := a.pipeline.Run(ctx, Draft{Words: Tokenize(text)}, opts, runOpts...)
	if err != nil {
		return nil, err
	}

	tokens := res.Payload.Words
	if tokens == nil {
		tokens = []string{}
	}
	return &AugmentResult{
		Steps:         res.Trace,
		Tokens:        tokens,
		TokenIDs:      TokenIDs(tokens),
		AugmentedText: strings.Join(tokens, " "),
	}, nil
}

func snapshotDraft(d Draft) (any, error) {
	details := d.Details
	if details == nil {
		details = []string{}
	}
	return DraftSnapshot{Text: strings.Join(d.Words, " "), Details: details}, nil
}

func wordCount(args pipeline.Args) (int, error) {
	n, err := args.Int("n_words")
	if err != nil {
		return 0, err
	}
	if n < 0 || n > maxWords {
		return 0, pipeline.InvalidParameter("n_words must be between 0 and %d, got %d", maxWords, n)
	}
	return n, nil
}

// positions returns the indexes of non-special words accepted by keep
func positions(words []string, keep func(string) bool) []int {
	var idx []int
	for i, w := range words {
		if isSpecial(w) {
			continue
		}
		if keep == nil || keep(w) {
			idx = append(idx, i)
		}
	}
	return idx
}

func (a *Augmenter) pick(idx []int) int {
	return idx[a.rng.IntN(len(idx))]
}

func (a *Augmenter) replaceSynonyms(_ context.Context, d Draft, args pipeline.Args) (Draft, error) {
	n, err := wordCount(args)
	if err != nil {
		return Draft{}, err
	}

	words := append([]string(nil), d.Words...)
	candidates := positions(words, func(w string) bool {
		return len(a.lexicon.SynonymsOf(w)) > 0
	})
	a.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	var details []string
	for _, pos := range candidates[:min(n, len(candidates))] {
		synonyms := a.lexicon.SynonymsOf(words[pos])
		replacement := synonyms[a.rng.IntN(len(synonyms))]
		details = append(details, fmt.Sprintf("Replaced '%s' with '%s'", words[pos], replacement))
		words[pos] = replacement
	}
	return Draft{Words: words, Details: details}, nil
}

func (a *Augmenter) replaceMasked(ctx context.Context, d Draft, args pipeline.Args) (Draft, error) {
	n, err := wordCount(args)
	if err != nil {
		return Draft{}, err
	}
	if a.filler == nil {
		return Draft{}, errors.Wrap(pipeline.ErrUnavailable, "no mask filler configured")
	}

	words := append([]string(nil), d.Words...)
	var details []string
	for i := 0; i < n; i++ {
		candidates := positions(words, nil)
		if len(candidates) == 0 {
			break
		}
		pos := a.pick(candidates)
		original := words[pos]

		words[pos] = MaskToken
		predicted, err := a.filler.FillMask(ctx, strings.Join(words, " "))
		if err != nil {
			return Draft{}, errors.Wrap(err, "fill mask")
		}
		predicted = strings.TrimSpace(predicted)
		if predicted == "" || strings.ContainsAny(predicted, " \t\n") {
			words[pos] = original
			continue
		}

		words[pos] = predicted
		details = append(details, fmt.Sprintf("Replaced '%s' with '%s'", original, predicted))
	}
	return Draft{Words: words, Details: details}, nil
}

func (a *Augmenter) replaceFromVocabulary(_ context.Context, d Draft, args pipeline.Args) (Draft, error) {
	n, err := wordCount(args)
	if err != nil {
		return Draft{}, err
	}

	words := append([]string(nil), d.Words...)
	candidates := positions(words, nil)
	if len(candidates) < 2 {
		return Draft{Words: words}, nil
	}

	var details []string
	for i := 0; i < n; i++ {
		pos := a.pick(candidates)
		replacement := words[a.pick(candidates)]
		details = append(details, fmt.Sprintf("Replaced '%s' with '%s'", words[pos], replacement))
		words[pos] = replacement
	}
	return Draft{Words: words, Details: details}, nil
}

func (a *Augmenter) insertRandom(_ context.Context, d Draft, args pipeline.Args) (Draft, error) {
	n, err := wordCount(args)
	if err != nil {
		return Draft{}, err
	}

	words := append([]string(nil), d.Words...)
	var details []string
	for i := 0; i < n; i++ {
		candidates := positions(words, nil)
		if len(candidates) == 0 {
			break
		}
		word := words[a.pick(candidates)]
		at := a.rng.IntN(len(words) + 1)

		words = append(words, "")
		copy(words[at+1:], words[at:])
		words[at] = word
		details = append(details, fmt.Sprintf("Inserted '%s' at position %d", word, at))
	}
	return Draft{Words: words, Details: details}, nil
}

func (a *Augmenter) deleteRandom(_ context.Context, d Draft, args pipeline.Args) (Draft, error) {
	n, err := wordCount(args)
	if err != nil {
		return Draft{}, err
	}

	words := append([]string(nil), d.Words...)
	var details []string
	for i := 0; i < n; i++ {
		candidates := positions(words, nil)
		if len(candidates) == 0 {
			break
		}
		pos := a.pick(candidates)
		details = append(details, fmt.Sprintf("Deleted '%s' from position %d", words[pos], pos))
		words = append(words[:pos], words[pos+1:]...)
	}
	return Draft{Words: words, Details: details}, nil
}
