package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-counsel/backend/internal/model/speech"
)

const defaultTTSEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

var errResourceMismatch = errors.New("resource ID is mismatched with speaker related resource")

// VolcengineTTSClient 火山引擎TTS WebSocket客户端
type VolcengineTTSClient struct {
	config   *speech.SpeechConfig
	dialer   *websocket.Dialer
	endpoint string
	creds    ttsCredentials
	credsErr error
}

// ttsCredentials 握手头 X-Api-App-Key / X-Api-Access-Key 的取值
type ttsCredentials struct {
	appKey    string
	accessKey string
}

// loadTTSCredentials AccessToken 缺失时回落到旧的 APIKey 配置
func loadTTSCredentials(cfg *speech.SpeechConfig) (ttsCredentials, error) {
	if cfg == nil {
		return ttsCredentials{}, errors.New("火山引擎语音配置未初始化")
	}

	creds := ttsCredentials{
		appKey:    strings.TrimSpace(cfg.AppID),
		accessKey: strings.TrimSpace(cfg.AccessToken),
	}
	if creds.accessKey == "" {
		creds.accessKey = strings.TrimSpace(cfg.APIKey)
	}
	if creds.appKey == "" || creds.accessKey == "" {
		return ttsCredentials{}, errors.New("火山引擎语音配置缺少 AppID 或 AccessToken")
	}
	return creds, nil
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type volcengineTTSRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string                   `json:"speaker"`
		Text        string                   `json:"text"`
		AudioParams volcengineTTSAudioParams `json:"audio_params"`
		Additions   string                   `json:"additions,omitempty"`
		Language    string                   `json:"language,omitempty"`
	} `json:"req_params"`
}

type volcengineTTSAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

// NewVolcengineTTSClient 创建火山引擎TTS客户端
func NewVolcengineTTSClient(config *speech.SpeechConfig) *VolcengineTTSClient {
	timeout := 30 * time.Second
	if config != nil && config.Timeout > 0 {
		timeout = time.Duration(config.Timeout) * time.Second
	}

	endpoint := defaultTTSEndpoint
	if config != nil && strings.HasPrefix(config.BaseURL, "ws") {
		endpoint = config.BaseURL
	}

	// 凭证缺失时每次合成都返回该错误
	creds, err := loadTTSCredentials(config)
	if err != nil {
		log.Printf("[TTS] %v", err)
	}

	return &VolcengineTTSClient{
		config:   config,
		dialer:   &websocket.Dialer{HandshakeTimeout: timeout},
		endpoint: endpoint,
		creds:    creds,
		credsErr: err,
	}
}

// SynthesizeSpeechWS 使用WebSocket协议进行语音合成。
// 发音人与资源 ID 不匹配时依次尝试候选组合。
func (c *VolcengineTTSClient) SynthesizeSpeechWS(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if c.credsErr != nil {
		return nil, c.credsErr
	}

	encoding := strings.TrimSpace(req.Format)
	if encoding == "" || encoding == "wav" {
		encoding = "mp3"
	}

	speakers := resolveTTSSpeakerCandidates(req.Voice, c.config.TTSVoice)
	var lastErr error

	for _, speaker := range speakers {
		for _, resourceID := range resolveTTSResourceCandidates(speaker) {
			resp, attemptErr := c.synthesizeOnce(ctx, req, speaker, encoding, resourceID)
			if attemptErr == nil {
				return resp, nil
			}
			if !errors.Is(attemptErr, errResourceMismatch) {
				return nil, attemptErr
			}
			log.Printf("[TTS] voice %s resource %s mismatch, trying next candidate", speaker, resourceID)
			lastErr = attemptErr
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no compatible resource id for voices %v", speakers)
	}
	return nil, fmt.Errorf("TTS synthesis failed: %w", lastErr)
}

func (c *VolcengineTTSClient) synthesizeOnce(ctx context.Context, req *speech.TTSRequest, speaker, encoding, resourceID string) (*speech.TTSResponse, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", c.creds.appKey)
	header.Set("X-Api-Access-Key", c.creds.accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[TTS] connected with logid: %s", logid)
		}
	}

	// ReadMessage 不感知 ctx，取消时关闭连接让读取返回
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	payload, err := sonic.Marshal(c.buildTTSRequest(req, speaker, encoding))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	message, err := CreateFullClientRequest(payload, GzipCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to compress TTS request: %w", err)
	}
	frame, err := EncodeMessage(message)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	result, err := collectAudio(conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	if result.reqID == "" {
		result.reqID = connectID
	}
	return &speech.TTSResponse{
		AudioData: result.audio.Bytes(),
		Format:    encoding,
		Voice:     speaker,
		Duration:  time.Duration(result.duration) * time.Millisecond,
		RequestID: result.reqID,
	}, nil
}

type ttsResult struct {
	audio    bytes.Buffer
	reqID    string
	duration int64
}

// collectAudio 读取服务端帧直到会话结束
func collectAudio(conn *websocket.Conn) (*ttsResult, error) {
	result := &ttsResult{}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}

		payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress TTS payload: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			if strings.Contains(string(payload), errResourceMismatch.Error()) {
				return nil, fmt.Errorf("%w (code %d)", errResourceMismatch, msg.ErrorCode)
			}
			return nil, fmt.Errorf("TTS error %d: %s", msg.ErrorCode, string(payload))

		case AudioOnlyServerResponse:
			result.audio.Write(payload)

		case FullServerResponse:
			var serverResp ttsServerMessage
			if len(payload) > 0 {
				if err := sonic.Unmarshal(payload, &serverResp); err != nil {
					log.Printf("[TTS] failed to unmarshal response payload: %v", err)
				} else if err := result.apply(serverResp); err != nil {
					return nil, err
				}
			}

			finished := msg.Header.MessageFlags&WithEvent == WithEvent && msg.EventType == EventTypeSessionFinished
			if finished || msg.IsLastPacket() || serverResp.Sequence < 0 {
				if result.audio.Len() == 0 {
					return nil, fmt.Errorf("TTS audio is empty")
				}
				return result, nil
			}

		default:
			log.Printf("[TTS] unexpected message type: %d", msg.Header.MessageType)
		}
	}
}

func (r *ttsResult) apply(resp ttsServerMessage) error {
	if resp.Code != 0 && resp.Code != 3000 {
		if strings.Contains(resp.Message, errResourceMismatch.Error()) {
			return errResourceMismatch
		}
		return fmt.Errorf("TTS API error %d: %s", resp.Code, resp.Message)
	}
	if resp.ReqID != "" {
		r.reqID = resp.ReqID
	}
	if resp.Addition.Duration != "" {
		if parsed, err := strconv.ParseInt(resp.Addition.Duration, 10, 64); err == nil {
			r.duration = parsed
		}
	}
	if resp.Data != "" {
		chunk, err := base64.StdEncoding.DecodeString(resp.Data)
		if err != nil {
			return fmt.Errorf("failed to decode base64 audio chunk: %w", err)
		}
		r.audio.Write(chunk)
	}
	return nil
}

// buildTTSRequest 构建符合火山引擎API格式的TTS请求
func (c *VolcengineTTSClient) buildTTSRequest(req *speech.TTSRequest, speaker, encoding string) *volcengineTTSRequest {
	ttsReq := &volcengineTTSRequest{}

	ttsReq.User.UID = strings.TrimSpace(req.SessionID)
	if ttsReq.User.UID == "" {
		ttsReq.User.UID = uuid.NewString()
	}

	ttsReq.ReqParams.Speaker = speaker
	ttsReq.ReqParams.Text = req.Text
	ttsReq.ReqParams.AudioParams.Format = encoding
	ttsReq.ReqParams.AudioParams.SampleRate = 24000

	speed := req.Speed
	if speed <= 0 {
		speed = c.config.TTSSpeed
	}
	if speed > 0 && speed != 1.0 {
		ttsReq.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 {
		volume = c.config.TTSVolume
	}
	if volume > 0 && volume != 1.0 {
		ttsReq.ReqParams.AudioParams.VolumeRatio = volume
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = strings.TrimSpace(c.config.TTSLanguage)
	}
	ttsReq.ReqParams.Language = language

	// 回答文本常带 Markdown，交给服务端过滤
	ttsReq.ReqParams.Additions = `{"disable_markdown_filter":false}`

	return ttsReq
}
