package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAI implements the Scanner interface using the OpenAI chat completions
// API with an image attachment
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAI creates a new OpenAI Scanner instance
func NewOpenAI(apiKey string, baseURL string, modelName string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	return &OpenAI{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   modelName,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// openaiChatRequest represents the request body for the chat completions API
type openaiChatRequest struct {
	Model     string          `json:"model"`
	Messages  []openaiMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openaiMessage struct {
	Role    string              `json:"role"`
	Content []openaiContentPart `json:"content"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// openaiChatResponse represents the response from the chat completions API
type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ScanStatement analyzes a billing statement and returns the raw model text
func (o *OpenAI) ScanStatement(imageData []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Prepare image data (convert to PNG if needed)
	finalImageData, mimeType, _, err := prepareImageData(imageData, contentType)
	if err != nil {
		return "", err
	}

	// Attach the image as a base64 data URL
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(finalImageData))

	reqBody := openaiChatRequest{
		Model:     o.model,
		MaxTokens: 300,
		Messages: []openaiMessage{
			{
				Role: "user",
				Content: []openaiContentPart{
					{Type: "text", Text: statementScanPrompt},
					{Type: "image_url", ImageURL: &openaiImageURL{URL: dataURL, Detail: "auto"}},
				},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling openai API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// Close closes the OpenAI client (no-op for HTTP client)
func (o *OpenAI) Close() error {
	return nil
}
