package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-counsel/backend/internal/config"
	"github.com/zhouzirui/z-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/z-counsel/backend/internal/model/profile"
)

// Service answers questions through an eino chain: chat template -> chat model.
type Service struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	systemPrompt string
	stream       bool
}

// NewService creates the Ark-backed answer service.
func NewService(ctx context.Context, cfg config.AIConfig, p profile.Profile) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, p, cfg.StreamResponse)
}

// NewServiceWithModel builds the chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, p profile.Profile, stream bool) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.MessagesPlaceholder("query", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:        runnable,
		systemPrompt: BuildSystemPrompt(p),
		stream:       stream,
	}, nil
}

// Answer runs the chain once and returns the full answer.
func (s *Service) Answer(ctx context.Context, q chat.Question) (string, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(q))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	log.Printf("[ai] generated answer for session=%s, attachments=%d, length=%d", q.SessionID, len(q.Attachments), len(response.Content))
	return response.Content, nil
}

// StreamAnswer reports partial text through onDelta and returns the
// concatenated answer. Falls back to Answer when streaming is disabled.
func (s *Service) StreamAnswer(ctx context.Context, q chat.Question, onDelta func(string)) (string, error) {
	if !s.stream {
		return s.Answer(ctx, q)
	}

	reader, err := s.chain.Stream(ctx, s.buildChainInput(q))
	if err != nil {
		return "", fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	defer reader.Close()

	var chunks []*schema.Message
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to receive AI stream chunk: %w", err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if onDelta != nil && chunk.Content != "" {
			onDelta(chunk.Content)
		}
	}

	if len(chunks) == 0 {
		return "", errors.New("AI stream returned no content")
	}

	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", fmt.Errorf("failed to merge AI stream chunks: %w", err)
	}

	log.Printf("[ai] streamed answer for session=%s, chunks=%d, length=%d", q.SessionID, len(chunks), len(full.Content))
	return full.Content, nil
}

func (s *Service) buildChainInput(q chat.Question) map[string]any {
	return map[string]any{
		"system":  s.systemPrompt,
		"history": buildHistoryMessages(q.History),
		"query":   []*schema.Message{buildUserMessage(q)},
	}
}
