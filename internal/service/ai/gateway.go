package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/nyu-mlab/gemini-proxy/internal/logging"
	"github.com/nyu-mlab/gemini-proxy/internal/model/chat"
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Options tunes a Gateway.
type Options struct {
	// SystemPrompt is prepended to every exchange when set.
	SystemPrompt string
	// Timeout bounds a single exchange; zero means no deadline beyond the caller's.
	Timeout time.Duration
}

// Gateway performs turn exchanges against the remote chat model. It holds no
// conversation state: history goes in and the extended history comes out.
type Gateway struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	system  string
	timeout time.Duration
	log     *logging.Logger
}

// NewGateway compiles the prompt chain around chatModel.
func NewGateway(ctx context.Context, chatModel model.BaseChatModel, opts Options, log *logging.Logger) (*Gateway, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	templates := make([]schema.MessagesTemplate, 0, 3)
	if opts.SystemPrompt != "" {
		templates = append(templates, schema.SystemMessage("{system}"))
	}
	templates = append(templates,
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)
	promptTemplate := prompt.FromMessages(schema.FString, templates...)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Gateway{
		chain:   runnable,
		system:  opts.SystemPrompt,
		timeout: opts.Timeout,
		log:     log.Sub("gateway"),
	}, nil
}

// Send exchanges one turn. On success it returns the reply and a new
// conversation extended by the user message and the reply; on failure the
// input conversation is returned unchanged. Failures are not retried.
func (g *Gateway) Send(ctx context.Context, conv chat.Conversation, message, modelName string, cfg chat.GenerationConfig) (string, chat.Conversation, error) {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	start := time.Now()
	response, err := g.chain.Invoke(ctx, g.buildChainInput(conv, message), compose.WithChatModelOption(modelOptions(modelName, cfg)...))
	if err != nil {
		return "", conv, fmt.Errorf("failed to run chat chain: %w", err)
	}
	if response == nil || response.Content == "" {
		return "", conv, ErrEmptyReply
	}

	g.log.Debug().
		Str("model", modelName).
		Int("turns", len(conv)).
		Int("length", len(response.Content)).
		Dur("duration", time.Since(start)).
		Msg("generated reply")
	return response.Content, conv.Append(message, response.Content), nil
}

// Stream exchanges one turn like Send, passing each text chunk to onDelta as
// it arrives. The conversation is only extended once the stream completes.
func (g *Gateway) Stream(ctx context.Context, conv chat.Conversation, message, modelName string, cfg chat.GenerationConfig, onDelta func(string)) (string, chat.Conversation, error) {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	stream, err := g.chain.Stream(ctx, g.buildChainInput(conv, message), compose.WithChatModelOption(modelOptions(modelName, cfg)...))
	if err != nil {
		return "", conv, fmt.Errorf("failed to stream chat chain output: %w", err)
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", conv, fmt.Errorf("failed to receive chunk: %w", recvErr)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" && onDelta != nil {
			onDelta(chunk.Content)
		}
	}
	if len(chunks) == 0 {
		return "", conv, ErrEmptyReply
	}

	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", conv, fmt.Errorf("failed to concat chunks: %w", err)
	}
	if response.Content == "" {
		return "", conv, ErrEmptyReply
	}
	return response.Content, conv.Append(message, response.Content), nil
}

func (g *Gateway) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return context.WithCancel(ctx)
}

func (g *Gateway) buildChainInput(conv chat.Conversation, message string) map[string]any {
	input := map[string]any{
		"history": buildHistoryMessages(conv),
		"query":   message,
	}
	if g.system != "" {
		input["system"] = g.system
	}
	return input
}

func buildHistoryMessages(conv chat.Conversation) []*schema.Message {
	if len(conv) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(conv))
	for _, turn := range conv {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleModel:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}

func modelOptions(modelName string, cfg chat.GenerationConfig) []model.Option {
	opts := []model.Option{
		model.WithMaxTokens(cfg.MaxOutputTokens),
		model.WithTemperature(float32(cfg.Temperature)),
		model.WithTopP(float32(cfg.TopP)),
	}
	if modelName != "" {
		opts = append(opts, model.WithModel(modelName))
	}
	return opts
}
