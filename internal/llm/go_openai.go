package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/sashabaranov/go-openai"
)

type GoOpenAIProvider struct {
	client *openai.Client
	config Config
}

func NewGoOpenAIProvider(config Config) *GoOpenAIProvider {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}

	return &GoOpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}
}

func (p *GoOpenAIProvider) request(req Request, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}

	// go-openai omits a zero temperature from the request body.
	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	return openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
}

func (p *GoOpenAIProvider) StreamChat(ctx context.Context, req Request) (<-chan StreamResponse, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.request(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	responseChan := make(chan StreamResponse)
	go func() {
		defer close(responseChan)
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				responseChan <- StreamResponse{Done: true}
				return
			}
			if err != nil {
				responseChan <- StreamResponse{Error: fmt.Errorf("stream error: %w", err)}
				return
			}

			if len(response.Choices) > 0 && response.Choices[0].Delta.Content != "" {
				select {
				case responseChan <- StreamResponse{Content: response.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return responseChan, nil
}

func (p *GoOpenAIProvider) Chat(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.request(req, false))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in chat completion")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *GoOpenAIProvider) Name() string {
	return "go-openai"
}
