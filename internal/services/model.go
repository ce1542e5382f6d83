// Language-model collaborator for intent structuring and playlist descriptions.
//
// Talks to an Ollama-compatible chat endpoint in strict-JSON mode. This
// client only assembles the documented schema and validates that the reply
// is JSON; interpreting the fields is the intent parser's job.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/crossfade-fm/crossfade/internal/shared"
)

const defaultModelBaseURL = "http://localhost:11434"

const intentSystemPrompt = "You are a mixtape planner. Translate the listener's request into a JSON object " +
	"with fields: name, description, explanation, searchQueries (array of catalog search strings), " +
	"moodTags (array of lowercase mood words), targetDurationSeconds (integer, 0 if unspecified), " +
	"targetTrackCount (integer, 0 if unspecified), energyProfile (ascending|descending|steady|variable), " +
	"discoveryRatio (0 to 1, how much unfamiliar music; 0 if unspecified), " +
	"includeSources (array of: spotify, youtube; empty for all). " +
	"Use the listener profile provided for grounding. Return ONLY a valid JSON object."

const describeSystemPrompt = "You are a mixtape liner-notes writer. Given a track list and the request that " +
	"produced it, return a JSON object with fields: name (short title), description (one sentence), " +
	"explanation (2-3 sentences on why these tracks fit). Return ONLY a valid JSON object."

// IntentSchema is the fixed schema the model must return for a prompt.
type IntentSchema struct {
	Name                  string   `json:"name"`
	Description           string   `json:"description"`
	Explanation           string   `json:"explanation"`
	SearchQueries         []string `json:"searchQueries"`
	MoodTags              []string `json:"moodTags"`
	TargetDurationSeconds int      `json:"targetDurationSeconds"`
	TargetTrackCount      int      `json:"targetTrackCount"`
	EnergyProfile         string   `json:"energyProfile"`
	DiscoveryRatio        float64  `json:"discoveryRatio"`
	IncludeSources        []string `json:"includeSources"`
}

// PlaylistNotes is the model's post-hoc naming and explanation output.
type PlaylistNotes struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Explanation string `json:"explanation"`
}

// ModelService is an HTTP client for the language-model collaborator.
type ModelService struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

// NewModelService creates a model client from configuration.
func NewModelService(cfg shared.ModelConfig) *ModelService {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultModelBaseURL
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	model := cfg.Name
	if model == "" {
		model = "llama3.1:8b"
	}

	return &ModelService{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// AnalyzeIntent asks the model to structure a prompt into the intent schema.
func (m *ModelService) AnalyzeIntent(ctx context.Context, prompt, profileSummary string, history []string) (*IntentSchema, error) {
	var user strings.Builder
	user.WriteString("Request: ")
	user.WriteString(prompt)
	if profileSummary != "" {
		user.WriteString("\nListener profile: ")
		user.WriteString(profileSummary)
	}
	if len(history) > 0 {
		user.WriteString("\nEarlier requests this conversation: ")
		user.WriteString(strings.Join(history, " | "))
	}

	var schema IntentSchema
	if err := m.chat(ctx, intentSystemPrompt, user.String(), &schema); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrIntentUnparseable, err)
	}

	return &schema, nil
}

// DescribePlaylist asks the model to write name, description, and
// explanation for a finished track selection.
func (m *ModelService) DescribePlaylist(ctx context.Context, prompt string, trackSummaries []string, moodTags []string) (*PlaylistNotes, error) {
	var user strings.Builder
	user.WriteString("Request: ")
	user.WriteString(prompt)
	user.WriteString("\nMoods: ")
	user.WriteString(strings.Join(moodTags, ", "))
	user.WriteString("\nTracks:\n")
	for _, t := range trackSummaries {
		user.WriteString("- ")
		user.WriteString(t)
		user.WriteString("\n")
	}

	var notes PlaylistNotes
	if err := m.chat(ctx, describeSystemPrompt, user.String(), &notes); err != nil {
		return nil, err
	}

	return &notes, nil
}

func (m *ModelService) chat(ctx context.Context, system, user string, result any) error {
	payload := chatRequest{
		Model:  m.model,
		Stream: false,
		Format: "json",
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("model: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/chat", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("model: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("model: unexpected status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("model: decode response: %w", err)
	}
	if parsed.Error != "" {
		return fmt.Errorf("model: %s", parsed.Error)
	}

	content := strings.TrimSpace(parsed.Message.Content)
	if content == "" {
		return fmt.Errorf("model: empty response")
	}

	if err := json.Unmarshal([]byte(content), result); err != nil {
		return fmt.Errorf("model: decode schema: %w", err)
	}

	return nil
}
