package gcp

import (
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
)

func response(parts ...genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		want string
	}{
		{"nil response", nil, ""},
		{"no candidates", &genai.GenerateContentResponse{}, ""},
		{"single part", response(genai.Text("  Hello students.  ")), "Hello students."},
		{"joined parts", response(genai.Text("Plants "), genai.Text("grow.")), "Plants grow."},
		{"fenced", response(genai.Text("```markdown\nSome text\n```")), "Some text"},
		{"non text parts ignored", response(genai.Blob{MIMEType: "image/png"}, genai.Text("ok")), "ok"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractText(tc.resp))
		})
	}
}

func TestIsRefusal(t *testing.T) {
	assert.True(t, IsRefusal("I am unable to help with that request."))
	assert.True(t, IsRefusal("As a large language model, I cannot..."))
	assert.False(t, IsRefusal("Water boils at one hundred degrees."))
}
