package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// CompleteJSON runs a completion and decodes the response body as JSON
// into out. When req.ResponseSchema is set, the body must validate against
// it; anything else is reported as ErrInvalidResponse so the caller's
// retry loop can feed the errors back into the next prompt.
func CompleteJSON(ctx context.Context, client Client, req Request, out interface{}) error {
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return err
	}

	body := ExtractJSON(resp.Text)
	if body == "" {
		return fmt.Errorf("%w: no JSON object in response", ErrInvalidResponse)
	}

	if req.ResponseSchema != "" {
		result, err := gojsonschema.Validate(
			gojsonschema.NewStringLoader(req.ResponseSchema),
			gojsonschema.NewStringLoader(body),
		)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		if !result.Valid() {
			details := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				details = append(details, e.String())
			}
			return fmt.Errorf("%w: schema violations: %s",
				ErrInvalidResponse, strings.Join(details, "; "))
		}
	}

	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// ExtractJSON pulls the first JSON object or array out of a completion,
// tolerating markdown code fences around it.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if fenced := extractFenced(text); fenced != "" {
		text = fenced
	}
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func extractFenced(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return ""
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
