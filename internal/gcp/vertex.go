package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Narration Model Prompts ---
const NarrationSystemPrompt = "You are an accessibility editor for school lessons. You rewrite lesson material into clear, friendly narration that works for students who are blind, dyslexic, or have cognitive disabilities, and that will be read aloud by a text-to-speech engine."
const NarrationUserPrompt = `Rewrite the lesson content below as an accessible narration.

Follow these rules:
1.  Use short sentences and everyday words. Explain any technical term the first time it appears.
2.  Keep every fact from the original. Do not invent new information.
3.  Describe anything the listener cannot see (charts, formulas, on-screen text) in words.
4.  Write plain prose only: no markdown, no bullet symbols, no headings, no emoji. The text will be spoken.
5.  Return ONLY the narration, without any preamble such as "Here is the narration".

Lesson content:
%s`

// --- Scene Model Prompts ---
const SceneSystemPrompt = "You are an educational comic writer. You turn lessons into a few illustrated comic scenes that help students with dyslexia and cognitive disabilities understand the main ideas."
const SceneUserPrompt = `Split the lesson narration below into 3 or 4 illustrated scenes. Never produce more than 4 scenes.

Use exactly this format for every scene, numbering the scenes 1 to 4:

1. **Title:** a short title
**Description:** two or three simple sentences describing what happens in the scene
**Key Idea:** the one idea the student should remember
**Image_prompt:** a detailed description of a single comic panel illustrating the scene, with no text or letters in the image

Lesson narration:
%s`

// ErrEmptyResponse is returned when the model produced no usable text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// ErrRefusal is returned when the model declined to answer.
var ErrRefusal = errors.New("model response indicates refusal")

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// VertexClient holds the pre-configured generative models used by the pipeline.
type VertexClient struct {
	NarrationModel *genai.GenerativeModel
	SceneModel     *genai.GenerativeModel
	baseClient     *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	// --- Configure the narration model ---
	narrationModel := baseClient.GenerativeModel(modelName)
	narrationModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(NarrationSystemPrompt)},
	}
	narrationModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.3),
	}

	// --- Configure the scene model ---
	sceneModel := baseClient.GenerativeModel(modelName)
	sceneModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SceneSystemPrompt)},
	}
	sceneModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.7),
	}

	return &VertexClient{
		NarrationModel: narrationModel,
		SceneModel:     sceneModel,
		baseClient:     baseClient,
	}, nil
}

// Narrate rewrites lesson text as accessible, TTS-ready narration.
func (c *VertexClient) Narrate(ctx context.Context, lessonText string) (string, error) {
	return generate(ctx, c.NarrationModel, fmt.Sprintf(NarrationUserPrompt, lessonText))
}

// Scenes asks the model to decompose narration into numbered scene blocks.
// The raw reply is returned; parsing is the caller's job.
func (c *VertexClient) Scenes(ctx context.Context, narration string) (string, error) {
	return generate(ctx, c.SceneModel, fmt.Sprintf(SceneUserPrompt, narration))
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

func generate(ctx context.Context, model *genai.GenerativeModel, prompt string) (string, error) {
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	text := ExtractText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	if IsRefusal(text) {
		return "", fmt.Errorf("%w: %.120q", ErrRefusal, text)
	}
	return text, nil
}

// ExtractText concatenates the text parts of the first candidate and strips
// any code fences the model wrapped around them.
func ExtractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}

	content := strings.TrimSpace(b.String())
	content = strings.TrimPrefix(content, "```markdown")
	content = strings.TrimPrefix(content, "```text")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// IsRefusal reports whether text looks like a model refusing the task.
func IsRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
