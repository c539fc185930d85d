package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/z-counsel/backend/internal/config"
	"github.com/zhouzirui/z-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/z-counsel/backend/internal/model/profile"
)

// OpenAIAnswerer answers through an OpenAI-compatible chat completion API.
// It cannot read attachments.
type OpenAIAnswerer struct {
	client       *openai.Client
	model        string
	systemPrompt string
	stream       bool
}

// NewOpenAIAnswerer creates the OpenAI-backed answerer.
func NewOpenAIAnswerer(cfg config.OpenAIConfig, p profile.Profile, stream bool) (*OpenAIAnswerer, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("OpenAI API key or model is missing")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIAnswerer{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		systemPrompt: BuildSystemPrompt(p),
		stream:       stream,
	}, nil
}

// Answer runs a single non-streaming completion.
func (a *OpenAIAnswerer) Answer(ctx context.Context, q chat.Question) (string, error) {
	req, err := a.buildRequest(q)
	if err != nil {
		return "", err
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}

	log.Printf("[ai] openai answer for session=%s, model=%s, length=%d", q.SessionID, a.model, len(resp.Choices[0].Message.Content))
	return resp.Choices[0].Message.Content, nil
}

// StreamAnswer streams completion deltas through onDelta.
func (a *OpenAIAnswerer) StreamAnswer(ctx context.Context, q chat.Question, onDelta func(string)) (string, error) {
	if !a.stream {
		return a.Answer(ctx, q)
	}

	req, err := a.buildRequest(q)
	if err != nil {
		return "", err
	}
	req.Stream = true

	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create completion stream: %w", err)
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to receive completion chunk: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		builder.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}

	if builder.Len() == 0 {
		return "", errors.New("completion stream returned no content")
	}
	return builder.String(), nil
}

func (a *OpenAIAnswerer) buildRequest(q chat.Question) (openai.ChatCompletionRequest, error) {
	if len(q.Attachments) > 0 {
		return openai.ChatCompletionRequest{}, ErrAttachmentsUnsupported
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(q.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: a.systemPrompt,
	})
	for _, msg := range q.History {
		role := openai.ChatMessageRoleUser
		if msg.Role == chat.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: questionText(q),
	})

	return openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: messages,
	}, nil
}
