package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	responses []string
	err       error
	calls     int
}

func (s *stubClient) Complete(ctx context.Context, req Request) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	text := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return &Response{Text: text}, nil
}

const qaSchema = `{
	"type": "object",
	"required": ["question", "answer"],
	"properties": {
		"question": {"type": "string"},
		"answer": {"type": "string"}
	}
}`

func TestCompleteJSON(t *testing.T) {
	client := &stubClient{responses: []string{
		"Here you go:\n```json\n{\"question\": \"What is X?\", \"answer\": \"Y\"}\n```",
	}}

	var out struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	err := CompleteJSON(context.Background(), client,
		Request{Prompt: "p", ResponseSchema: qaSchema}, &out)
	require.NoError(t, err)
	assert.Equal(t, "What is X?", out.Question)
	assert.Equal(t, "Y", out.Answer)
}

func TestCompleteJSONSchemaViolation(t *testing.T) {
	client := &stubClient{responses: []string{`{"question": "only a question"}`}}

	var out map[string]interface{}
	err := CompleteJSON(context.Background(), client,
		Request{Prompt: "p", ResponseSchema: qaSchema}, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestCompleteJSONNoJSON(t *testing.T) {
	client := &stubClient{responses: []string{"I cannot answer that."}}

	var out map[string]interface{}
	err := CompleteJSON(context.Background(), client, Request{Prompt: "p"}, &out)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around", `Sure: {"a": {"b": 2}} hope that helps`, `{"a": {"b": 2}}`},
		{"array", `[1, 2, 3]`, `[1, 2, 3]`},
		{"brace in string", `{"a": "}"}`, `{"a": "}"}`},
		{"none", "no json here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestRetryingClientStopsOnInvalidResponse(t *testing.T) {
	inner := &stubClient{err: ErrInvalidResponse}
	client := NewRetryingClient(inner, 5)

	_, err := client.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls, "schema errors must not burn retry budget")
}

func TestRetryingClientRetriesTransient(t *testing.T) {
	inner := &stubClient{err: errors.New("timeout")}
	client := NewRetryingClient(inner, 2)

	_, err := client.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls)
}
