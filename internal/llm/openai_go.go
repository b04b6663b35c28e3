package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIGoProvider talks to any OpenAI compatible chat completions endpoint,
// the Hugging Face inference router included.
type OpenAIGoProvider struct {
	client *openai.Client
	config Config
}

func NewOpenAIGoProvider(config Config) *OpenAIGoProvider {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	client := openai.NewClient(opts...)

	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}

	return &OpenAIGoProvider{client: &client, config: config}
}

func (p *OpenAIGoProvider) params(req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}

	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.config.Model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	}
}

func (p *OpenAIGoProvider) StreamChat(ctx context.Context, req Request) (<-chan StreamResponse, error) {
	responseChan := make(chan StreamResponse)
	params := p.params(req)

	go func() {
		defer close(responseChan)

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case responseChan <- StreamResponse{Content: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			responseChan <- StreamResponse{Error: fmt.Errorf("stream error: %w", err)}
			return
		}
		responseChan <- StreamResponse{Done: true}
	}()

	return responseChan, nil
}

func (p *OpenAIGoProvider) Chat(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in chat completion")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIGoProvider) Name() string {
	return "openai-go"
}
