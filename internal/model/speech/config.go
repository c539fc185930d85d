package speech

// SpeechConfig 语音合成服务配置
type SpeechConfig struct {
	// Volcengine 配置
	AppID       string `json:"appId"`            // 火山引擎 APP ID
	AccessToken string `json:"accessToken"`      // 火山引擎 Access Token
	APIKey      string `json:"apiKey,omitempty"` // 兼容旧配置的 API Key
	Region      string `json:"region"`           // 服务区域
	BaseURL     string `json:"baseUrl"`          // 自定义 WebSocket 端点

	// TTS 配置
	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`

	// 通用配置
	Timeout int `json:"timeout"` // seconds
}
