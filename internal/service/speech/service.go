package speech

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/z-counsel/backend/internal/model/speech"
)

// Service 语音合成服务，朗读功能在服务端合成音频时使用
type Service struct {
	config    *speech.SpeechConfig
	ttsClient *VolcengineTTSClient
}

// NewService 创建语音服务实例
func NewService(config *speech.SpeechConfig) *Service {
	return &Service{
		config:    config,
		ttsClient: NewVolcengineTTSClient(config),
	}
}

// SynthesizeSpeech 文字转语音 - 使用WebSocket协议
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}
	return s.ttsClient.SynthesizeSpeechWS(ctx, req)
}

// DefaultVoice 返回配置中的默认发音人
func (s *Service) DefaultVoice() string {
	return NormalizeVoiceAlias(s.config.TTSVoice)
}
