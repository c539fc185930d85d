package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/z-counsel/backend/internal/model/chat"
)

// MockAnswerer echoes the question back. Used when no AI provider is configured.
type MockAnswerer struct {
	// Delay simulates backend latency.
	Delay time.Duration
}

// NewMockAnswerer 创建本地演示用的回答器
func NewMockAnswerer(delay time.Duration) *MockAnswerer {
	return &MockAnswerer{Delay: delay}
}

// Answer 返回固定格式的回显内容
func (m *MockAnswerer) Answer(ctx context.Context, q chat.Question) (string, error) {
	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("（デモ応答）ご質問「%s」を受け付けました。", strings.TrimSpace(q.Text)))
	if names := chat.AttachmentNames(q.Attachments); len(names) > 0 {
		builder.WriteString(fmt.Sprintf("\n添付資料: %s", strings.Join(names, ", ")))
	}
	builder.WriteString("\nAIプロバイダーが設定されていないため、実際の回答は生成されません。")
	return builder.String(), nil
}
