package speech

import "time"

// TTSResponse 一次合成得到的完整音频
type TTSResponse struct {
	AudioData []byte
	Format    string
	// Voice 实际生效的发音人，可能是别名解析或资源回退后的结果
	Voice string
	// Duration 服务端回报的音频时长，未回报时为 0
	Duration  time.Duration
	RequestID string
}
