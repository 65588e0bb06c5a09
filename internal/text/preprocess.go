package text

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/msto63/mediaprep/internal/pipeline"
)

// PreprocessResult is the response of the text preprocessing pipeline
type PreprocessResult struct {
	Steps    pipeline.Trace `json:"preprocessing_steps"`
	Tokens   []string       `json:"tokens"`
	TokenIDs []int          `json:"token_ids"`
}

// StepTrace returns the executed steps
func (r *PreprocessResult) StepTrace() pipeline.Trace {
	return r.Steps
}

// Preprocessor runs the text preprocessing pipeline
type Preprocessor struct {
	pipeline *pipeline.Pipeline[[]string]
	lexicon  *Lexicon
}

// NewPreprocessor creates a preprocessor using lex for stop words
func NewPreprocessor(lex *Lexicon) *Preprocessor {
	pp := &Preprocessor{lexicon: lex}
	pp.pipeline = pipeline.New("text.preprocess", joinTokens,
		pipeline.Step[[]string]{
			Key:   "case_normalization",
			Label: "Case Normalization",
			Help:  "Lower-case every token",
			Apply: lowerCase,
		},
		pipeline.Step[[]string]{
			Key:   "punctuation_removal",
			Label: "Punctuation Removal",
			Help:  "Strip punctuation and drop tokens left empty",
			Apply: removePunctuation,
		},
		pipeline.Step[[]string]{
			Key:   "stopword_removal",
			Label: "Stop Word Removal",
			Help:  "Drop English stop words",
			Apply: pp.removeStopWords,
		},
		pipeline.Step[[]string]{
			Key:   "padding",
			Label: "Padding",
			Help:  "Pad with <PAD> or truncate to a fixed length",
			Params: []pipeline.Param{
				{Key: "length", Flat: "padding_length", Default: 20, Help: "target token count"},
			},
			Apply: pad,
		},
	)
	return pp
}

// Name returns the pipeline name
func (pp *Preprocessor) Name() string {
	return pp.pipeline.Name()
}

// Steps describes the pipeline steps
func (pp *Preprocessor) Steps() []pipeline.StepInfo {
	return pp.pipeline.Steps()
}

// Process tokenizes the input text and runs the enabled steps
func (pp *Preprocessor) Process(ctx context.Context, data json.RawMessage, opts pipeline.Options, runOpts ...pipeline.RunOption) (*PreprocessResult, error) {
	text, err := DecodeInput(data)
	if err != nil {
		return nil, err
	}

	res, err := pp.pipeline.Run(ctx, Tokenize(text), opts, runOpts...)
	if err != nil {
		return nil, err
	}

	tokens := res.Payload
	if tokens == nil {
		tokens = []string{}
	}
	return &PreprocessResult{
		Steps:    res.Trace,
		Tokens:   tokens,
		TokenIDs: TokenIDs(tokens),
	}, nil
}

func joinTokens(tokens []string) (any, error) {
	return strings.Join(tokens, " "), nil
}

func lowerCase(_ context.Context, tokens []string, _ pipeline.Args) ([]string, error) {
	caser := cases.Lower(language.Und)
	out := make([]string, len(tokens))
	for i, t := range tokens {
		if isSpecial(t) {
			out[i] = t
			continue
		}
		out[i] = caser.String(t)
	}
	return out, nil
}

func removePunctuation(_ context.Context, tokens []string, _ pipeline.Args) ([]string, error) {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if isSpecial(t) {
			out = append(out, t)
			continue
		}
		stripped := strings.Map(func(r rune) rune {
			if unicode.IsPunct(r) {
				return -1
			}
			return r
		}, t)
		if stripped != "" {
			out = append(out, stripped)
		}
	}
	return out, nil
}

func (pp *Preprocessor) removeStopWords(_ context.Context, tokens []string, _ pipeline.Args) ([]string, error) {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !pp.lexicon.IsStopWord(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func pad(_ context.Context, tokens []string, args pipeline.Args) ([]string, error) {
	n, err := args.Int("length")
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, pipeline.InvalidParameter("padding length must not be negative, got %d", n)
	}

	if len(tokens) >= n {
		return append([]string(nil), tokens[:n]...), nil
	}
	out := make([]string, n)
	copy(out, tokens)
	for i := len(tokens); i < n; i++ {
		out[i] = PadToken
	}
	return out, nil
}
