package character

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/voicepages/voicepages-core/internal/book"
	"github.com/voicepages/voicepages-core/internal/config"
)

type ollamaDetector struct {
	endpoint string
	model    string
	timeout  time.Duration
	excerpt  int
	client   *http.Client
}

// NewOllamaDetector builds the LLM tier against a local Ollama endpoint.
// The call is bounded by the configured timeout; this detector sits on the
// request path of an interactive action and must never block for long.
func NewOllamaDetector(cfg config.DetectorConfig) Detector {
	return &ollamaDetector{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		timeout:  time.Duration(cfg.TimeoutMS) * time.Millisecond,
		excerpt:  cfg.ExcerptChars,
		client:   &http.Client{},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

type extractedCharacter struct {
	Gender      string `json:"gender"`
	Role        string `json:"role"`
	Description string `json:"description"`
}

type extraction struct {
	Characters map[string]extractedCharacter `json:"characters"`
}

const extractionPrompt = `Analyze the following text from a book and identify all characters (people) who speak or are mentioned.

For each character, determine:
- Name (how they're referred to in the book)
- Gender (male/female/unknown)
- Role (main/supporting/minor)

Return ONLY a JSON object with this structure (no other text):
{
  "characters": {
    "Character Name": {
      "gender": "male/female/unknown",
      "role": "main/supporting/minor",
      "description": "brief description"
    }
  }
}

Text to analyze:
%s

JSON:`

func (d *ollamaDetector) Detect(ctx context.Context, text string) ([]book.Character, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	excerpt := text
	if d.excerpt > 0 && len(excerpt) > d.excerpt {
		excerpt = excerpt[:runeFloor(excerpt, d.excerpt)]
	}

	payload := ollamaRequest{
		Model:  d.model,
		Prompt: fmt.Sprintf(extractionPrompt, excerpt),
		Stream: false,
		Format: "json",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ollama returned status %s", resp.Status)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}

	return parseExtraction(out.Response)
}

// parseExtraction decodes the model's character list, tolerating prose
// around a recognizable JSON object.
func parseExtraction(raw string) ([]book.Character, error) {
	var ex extraction
	if err := json.Unmarshal([]byte(raw), &ex); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON object in model output")
		}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &ex); err != nil {
			return nil, fmt.Errorf("parse character extraction: %w", err)
		}
	}

	var chars []book.Character
	for name, meta := range ex.Characters {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		chars = append(chars, book.Character{
			Key:         book.Canonicalize(name),
			DisplayName: name,
			Gender:      meta.Gender,
			Role:        meta.Role,
			Narrator:    book.IsNarratorName(name),
		})
	}
	return chars, nil
}

// runeFloor moves a byte offset back to the nearest rune boundary so the
// excerpt cut never splits a multibyte character.
func runeFloor(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
