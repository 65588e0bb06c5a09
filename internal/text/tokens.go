package text

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/msto63/mediaprep/internal/pipeline"
)

// Special tokens never picked by augmentation
const (
	PadToken  = "<PAD>"
	MaskToken = "[MASK]"
)

// Tokenize splits s on white space
func Tokenize(s string) []string {
	return strings.Fields(s)
}

// TokenIDs maps each token to the code point of its first rune, 0 when empty
func TokenIDs(tokens []string) []int {
	ids := make([]int, len(tokens))
	for i, t := range tokens {
		if r, size := utf8.DecodeRuneInString(t); size > 0 {
			ids[i] = int(r)
		}
	}
	return ids
}

func isSpecial(token string) bool {
	return token == PadToken || token == MaskToken
}

// DecodeInput accepts a JSON string or an object with a "tokens" array and
// returns the text it carries.
func DecodeInput(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", pipeline.InvalidPayload("missing text")
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", pipeline.InvalidPayload("text: %v", err)
		}
		return s, nil
	case '{':
		var obj struct {
			Tokens []string `json:"tokens"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", pipeline.InvalidPayload("text: %v", err)
		}
		if obj.Tokens == nil {
			return "", pipeline.InvalidPayload("text object without tokens")
		}
		return strings.Join(obj.Tokens, " "), nil
	case '[':
		return "", pipeline.InvalidPayload("text must be a string or an object with tokens")
	default:
		// Numbers and booleans are used in their JSON spelling
		return string(raw), nil
	}
}
