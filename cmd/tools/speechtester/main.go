package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-counsel/backend/internal/config"
	speechmodel "github.com/zhouzirui/z-counsel/backend/internal/model/speech"
	"github.com/zhouzirui/z-counsel/backend/internal/service/speech"
)

// speechtester 用当前配置合成一段文本并写入音频文件，用于排查发音人与资源 ID
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	if !cfg.Speech.Enabled {
		log.Fatal("语音服务未启用，请先在环境变量中配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
	}

	text := flag.String("text", "", "待合成文本")
	outputPath := flag.String("out", "", "输出音频文件路径 (默认根据格式自动生成)")
	format := flag.String("format", "mp3", "输出音频格式")
	language := flag.String("lang", "", "语言代码，默认使用配置中的语言")
	voice := flag.String("voice", "", "声音 ID，默认使用配置中的 TTSVoice")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if strings.TrimSpace(*text) == "" {
		flag.Usage()
		log.Fatal("需要通过 -text 提供待合成文本")
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	svc := speech.NewService(&speechmodel.SpeechConfig{
		AppID:       cfg.Speech.AppID,
		AccessToken: cfg.Speech.AccessToken,
		APIKey:      cfg.Speech.APIKey,
		Region:      cfg.Speech.Region,
		BaseURL:     cfg.Speech.BaseURL,
		TTSVoice:    cfg.Speech.TTSVoice,
		TTSSpeed:    cfg.Speech.TTSSpeed,
		TTSVolume:   cfg.Speech.TTSVolume,
		TTSLanguage: cfg.Speech.TTSLanguage,
		Timeout:     cfg.Speech.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *voice == "" {
		*voice = svc.DefaultVoice()
	}
	if *language == "" {
		*language = cfg.Speech.TTSLanguage
	}
	if *outputPath == "" {
		*outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), *format)
	}

	log.Printf("开始进行 TTS 测试: session=%s voice=%s format=%s language=%s", sessionID, *voice, *format, *language)

	resp, err := svc.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      *text,
		Voice:     *voice,
		Format:    *format,
		Language:  *language,
	})
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}

	if err := os.WriteFile(*outputPath, resp.AudioData, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}

	log.Printf("TTS 合成成功: 输出文件 %s, 格式=%s, 发音人=%s, 时长=%s, requestID=%s", *outputPath, resp.Format, resp.Voice, resp.Duration, resp.RequestID)
}
