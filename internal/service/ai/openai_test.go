package ai

import (
	"testing"

	"github.com/zhouzirui/z-counsel/backend/internal/config"
	"github.com/zhouzirui/z-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/z-counsel/backend/internal/model/profile"
)

func configForTest() config.OpenAIConfig {
	return config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini", BaseURL: "http://127.0.0.1:1/v1/"}
}

func TestOpenAIBuildRequest(t *testing.T) {
	a, err := NewOpenAIAnswerer(configForTest(), profile.Seed()[0], true)
	if err != nil {
		t.Fatalf("NewOpenAIAnswerer: %v", err)
	}

	req, err := a.buildRequest(chat.Question{
		Text: "質問です",
		History: []chat.Message{
			{Role: chat.RoleUser, Content: "前の質問"},
			{Role: chat.RoleAssistant, Content: "前の回答"},
		},
	})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}

	if req.Model != "gpt-4o-mini" || len(req.Messages) != 4 {
		t.Fatalf("unexpected request: %+v", req)
	}
	roles := []string{req.Messages[0].Role, req.Messages[1].Role, req.Messages[2].Role, req.Messages[3].Role}
	want := []string{"system", "user", "assistant", "user"}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("roles = %v, want %v", roles, want)
		}
	}
	if req.Messages[3].Content != "質問です" {
		t.Fatalf("question content = %q", req.Messages[3].Content)
	}
}

func TestNewOpenAIAnswererRequiresKey(t *testing.T) {
	if _, err := NewOpenAIAnswerer(config.OpenAIConfig{Model: "gpt-4o-mini"}, profile.Seed()[0], false); err == nil {
		t.Fatalf("expected error without API key")
	}
}
