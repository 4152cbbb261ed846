package extract

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	appLog "timetablecal/internal/log"
	"timetablecal/internal/model"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

const (
	systemInstruction = "You are an expert timetable parser. Analyze the provided image of a time table and extract all classes/events. " +
		"Return the data as a single JSON array, conforming strictly to the provided schema. " +
		"The 'day' must be the full day name (e.g., 'Monday'), 'time' must be in HH:MM-HH:MM 24-hour format (e.g., '10:00-11:30'), " +
		"'subject' is the class title, and 'location' is the room/link. If any data is missing, use an empty string for that field."

	userPrompt = "Extract the structured time table from this image. Ensure time format is HH:MM-HH:MM, day is full name, " +
		"and extract only the day, time, subject, and location."
)

// entrySchema mirrors model.Entry: an array of objects with four required
// string properties.
var entrySchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"day":      {Type: genai.TypeString},
			"time":     {Type: genai.TypeString},
			"subject":  {Type: genai.TypeString},
			"location": {Type: genai.TypeString},
		},
		PropertyOrdering: []string{"day", "time", "subject", "location"},
		Required:         []string{"day", "time", "subject", "location"},
	},
}

// Gemini extracts entries with Google's Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGemini creates a Gemini extractor. An empty apiKey yields
// ErrNotConfigured. timeout <= 0 leaves the request bound only by ctx.
func NewGemini(ctx context.Context, apiKey, model string, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Gemini{
		client:  client,
		model:   model,
		timeout: timeout,
	}, nil
}

// Extract sends the file inline together with the extraction prompt and
// decodes the JSON answer.
func (g *Gemini) Extract(ctx context.Context, up Upload) ([]model.Entry, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(userPrompt),
			genai.NewPartFromBytes(up.Data, up.MIMEType),
		}, genai.RoleUser),
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    entrySchema,
	}

	started := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, &ProviderError{Provider: "gemini", Err: err}
	}

	text := resp.Text()
	if text == "" {
		return nil, ErrEmptyResponse
	}

	entries, err := DecodeEntries(text)
	if err != nil {
		return nil, err
	}

	appLog.Info("extraction completed",
		"extractor", g.Name(),
		"mime", up.MIMEType,
		"bytes", len(up.Data),
		"entries", len(entries),
		"elapsed", time.Since(started).String(),
	)
	return entries, nil
}

// Name returns the extractor name.
func (g *Gemini) Name() string {
	return "gemini:" + g.model
}
