package ai

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-counsel/backend/internal/model/chat"
)

// ErrAttachmentsUnsupported 当前提供方无法接收文件
var ErrAttachmentsUnsupported = errors.New("this AI provider cannot read attached files")

// questionText 仅有附件时补一句默认提问
func questionText(q chat.Question) string {
	text := strings.TrimSpace(q.Text)
	if text == "" && len(q.Attachments) > 0 {
		text = "添付資料の内容を要約してください。"
	}
	if notice := attachmentNotice(chat.AttachmentNames(q.Attachments)); notice != "" {
		text += "\n" + notice
	}
	return text
}

// buildUserMessage 附件以 data URL 文件片段随提问一起发送
func buildUserMessage(q chat.Question) *schema.Message {
	text := questionText(q)
	if len(q.Attachments) == 0 {
		return schema.UserMessage(text)
	}

	parts := make([]schema.ChatMessagePart, 0, len(q.Attachments)+1)
	parts = append(parts, schema.ChatMessagePart{
		Type: schema.ChatMessagePartTypeText,
		Text: text,
	})
	for _, file := range q.Attachments {
		mimeType := file.MIMEType
		if mimeType == "" {
			mimeType = "application/pdf"
		}
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeFileURL,
			FileURL: &schema.ChatMessageFileURL{
				URL:      "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(file.Data),
				MIMEType: mimeType,
				Name:     file.Name,
			},
		})
	}

	return &schema.Message{
		Role:         schema.User,
		MultiContent: parts,
	}
}

// buildHistoryMessages 将已完成的对话转为模型消息
func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			content := msg.Content
			if notice := attachmentNotice(msg.Attachments); notice != "" {
				content = strings.TrimSpace(content + "\n" + notice)
			}
			history = append(history, schema.UserMessage(content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
