package genai

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// UnmarshalOutput parses a JSON value out of free-form model output.
//
// Models asked for JSON frequently wrap it in a fenced code block. Exactly
// one wrapper is stripped, trying the ```json-labeled fence first, then an
// unlabeled one; otherwise the text is parsed as-is. If decoding fails with
// a syntax error, the text is passed through jsonrepair once and re-decoded.
func UnmarshalOutput(text string, v any) error {
	text = stripFence(text)
	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, rerr := jsonrepair.JSONRepair(text)
		if rerr != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

// stripFence removes one fenced code block wrapper, preferring the
// json-labeled form. Text outside the fence is discarded.
func stripFence(text string) string {
	for _, marker := range []string{"```json", "```"} {
		if _, rest, ok := strings.Cut(text, marker); ok {
			if body, _, ok := strings.Cut(rest, "```"); ok {
				return strings.TrimSpace(body)
			}
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(text)
}
