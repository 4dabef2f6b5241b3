package extract

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// ocrPrompt asks the model for a plain transcription. Layout markup would
// pollute the line-per-row table the synthesizer builds downstream.
const ocrPrompt = `Transcribe all text visible in this document exactly as it appears.
Output plain text only: no markdown, no commentary, no description of images.
Preserve the reading order and line structure. If the document contains no
readable text, output nothing.`

// TextExtractor is the OCR capability contract: one call per page image,
// failing independently per call.
type TextExtractor interface {
	ExtractText(ctx context.Context, mimeType string, data []byte) (string, error)
}

// GeminiExtractor implements TextExtractor on a Vertex AI multimodal model.
type GeminiExtractor struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiExtractor creates an extractor bound to the given project,
// region, and model name (e.g. "gemini-1.5-flash").
func NewGeminiExtractor(ctx context.Context, projectID, region, modelName string) (*GeminiExtractor, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("gemini extractor: projectID and region cannot be empty")
	}

	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}

	return &GeminiExtractor{client: client, model: model}, nil
}

// ExtractText runs one extraction pass over a single page or image.
func (g *GeminiExtractor) ExtractText(ctx context.Context, mimeType string, data []byte) (string, error) {
	part := genai.Blob{MIMEType: mimeType, Data: data}

	resp, err := g.model.GenerateContent(ctx, part, genai.Text(ocrPrompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if text, ok := p.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}
	return b.String(), nil
}

// Close releases the underlying client.
func (g *GeminiExtractor) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
