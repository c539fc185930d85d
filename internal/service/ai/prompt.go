package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/z-counsel/backend/internal/model/profile"
)

// answerRules 所有助手共用的回答约束
var answerRules = []string{
	"添付資料がある場合は、まずその内容に基づいて回答し、該当箇所を示すこと",
	"資料や知識で確認できない事項は推測で断定しないこと",
	"個人情報の提供を求めないこと",
	"制度の改正により内容が変わる可能性がある場合はその旨を添えること",
}

// BuildSystemPrompt creates the system prompt for the assistant profile.
func BuildSystemPrompt(p profile.Profile) string {
	base := strings.TrimSpace(p.SystemPrompt)
	if base == "" {
		base = fmt.Sprintf("あなたは「%s」です。%s", p.Name, p.Title)
	}

	var builder strings.Builder
	builder.WriteString(base)

	builder.WriteString("\n\nアシスタント情報：\n- 名前：")
	builder.WriteString(p.Name)
	if p.Title != "" {
		builder.WriteString("\n- 担当分野：")
		builder.WriteString(p.Title)
	}

	builder.WriteString("\n\n回答ルール：\n- ")
	builder.WriteString(strings.Join(answerRules, "\n- "))

	if lang := languageName(p.Language); lang != "" {
		builder.WriteString("\n\n回答は必ず")
		builder.WriteString(lang)
		builder.WriteString("で行ってください。")
	}

	return builder.String()
}

func languageName(tag string) string {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "":
		return ""
	case "ja", "ja-jp":
		return "日本語"
	case "zh", "zh-cn":
		return "中国語"
	case "en", "en-us", "en-gb":
		return "英語"
	default:
		return tag
	}
}

// attachmentNotice 告诉模型本轮附带了哪些文件
func attachmentNotice(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return fmt.Sprintf("（添付資料: %s）", strings.Join(names, ", "))
}
