// Package gemini adapts the Gemini generateContent REST API to the eino
// chat model interface.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Config configures a ChatModel.
type Config struct {
	APIKey  string
	BaseURL string
	// Model is used when a call does not pass model.WithModel.
	Model      string
	HTTPClient *http.Client
}

// ChatModel is a direct HTTP client for the Gemini API.
type ChatModel struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// NewChatModel creates a Gemini chat model.
func NewChatModel(cfg Config) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini model is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		// deadlines come from the caller's context
		client = &http.Client{}
	}
	return &ChatModel{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   cfg.Model,
		client:  client,
	}, nil
}

// Generate sends a non-streaming generateContent request.
func (g *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	modelName, body, err := g.buildRequest(input, opts)
	if err != nil {
		return nil, err
	}

	resp, err := g.do(ctx, modelName, "generateContent", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, respBody)
	}

	var result generateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return result.toMessage()
}

// Stream sends a streamGenerateContent request and yields one message per chunk.
func (g *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	modelName, body, err := g.buildRequest(input, opts)
	if err != nil {
		return nil, err
	}

	resp, err := g.do(ctx, modelName, "streamGenerateContent?alt=sse", body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, apiError(resp.StatusCode, respBody)
	}

	sr, sw := schema.Pipe[*schema.Message](8)
	go func() {
		defer resp.Body.Close()
		defer sw.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			var chunk generateResponse
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &chunk); err != nil {
				sw.Send(nil, fmt.Errorf("failed to parse stream chunk: %w", err))
				return
			}
			msg, err := chunk.toMessage()
			if err != nil {
				sw.Send(nil, err)
				return
			}
			if closed := sw.Send(msg, nil); closed {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			sw.Send(nil, fmt.Errorf("failed to read stream: %w", err))
		}
	}()
	return sr, nil
}

func (g *ChatModel) do(ctx context.Context, modelName, method string, body []byte) (*http.Response, error) {
	endpoint := fmt.Sprintf("%s/models/%s:%s", g.baseURL, modelName, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (g *ChatModel) buildRequest(input []*schema.Message, opts []model.Option) (string, []byte, error) {
	options := model.GetCommonOptions(&model.Options{Model: &g.model}, opts...)

	modelName := g.model
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	req := generateRequest{}
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			if req.SystemInstruction == nil {
				req.SystemInstruction = &content{}
			}
			req.SystemInstruction.Parts = append(req.SystemInstruction.Parts, part{Text: msg.Content})
		case schema.Assistant:
			req.Contents = append(req.Contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		default:
			req.Contents = append(req.Contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		}
	}
	if len(req.Contents) == 0 {
		return "", nil, errors.New("no user or model content to send")
	}

	if options.MaxTokens != nil || options.Temperature != nil || options.TopP != nil || len(options.Stop) > 0 {
		req.GenerationConfig = &generationConfig{
			MaxOutputTokens: options.MaxTokens,
			Temperature:     options.Temperature,
			TopP:            options.TopP,
			StopSequences:   options.Stop,
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return modelName, body, nil
}

func apiError(status int, body []byte) error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return fmt.Errorf("gemini API error (%d %s): %s", status, payload.Error.Status, payload.Error.Message)
	}
	return fmt.Errorf("gemini API error (%d): %s", status, strings.TrimSpace(string(body)))
}

// API request/response structures

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

func (r *generateResponse) toMessage() (*schema.Message, error) {
	if len(r.Candidates) == 0 {
		if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("prompt blocked: %s", r.PromptFeedback.BlockReason)
		}
		return nil, errors.New("response has no candidates")
	}

	candidate := r.Candidates[0]
	var text strings.Builder
	for _, p := range candidate.Content.Parts {
		text.WriteString(p.Text)
	}

	msg := &schema.Message{
		Role:    schema.Assistant,
		Content: text.String(),
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: candidate.FinishReason,
		},
	}
	if r.UsageMetadata != nil {
		msg.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     r.UsageMetadata.PromptTokenCount,
			CompletionTokens: r.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      r.UsageMetadata.TotalTokenCount,
		}
	}
	return msg, nil
}
