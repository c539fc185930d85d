package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-counsel/backend/internal/config"
	"github.com/zhouzirui/z-counsel/backend/internal/handler"
	"github.com/zhouzirui/z-counsel/backend/internal/model/profile"
	speechModel "github.com/zhouzirui/z-counsel/backend/internal/model/speech"
	"github.com/zhouzirui/z-counsel/backend/internal/service/ai"
	chatService "github.com/zhouzirui/z-counsel/backend/internal/service/chat"
	"github.com/zhouzirui/z-counsel/backend/internal/service/session"
	"github.com/zhouzirui/z-counsel/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	profiles, err := loadProfiles(cfg.Chat.ProfileFile)
	if err != nil {
		log.Fatalf("failed to load profiles: %v", err)
	}
	defaultProfile := profiles.Default()

	answerer, err := newAnswerer(ctx, cfg.AI, defaultProfile)
	if err != nil {
		log.Fatalf("failed to initialize AI provider %s: %v", cfg.AI.Provider, err)
	}

	// 服务端合成未启用时由浏览器朗读
	var synth speech.Synthesizer
	if cfg.Speech.ServerTTS {
		synth = speech.NewService(&speechModel.SpeechConfig{
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
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("语音服务凭证未配置，朗读交由浏览器完成")
	}

	manager := session.NewManager(answerer, synth, profiles, session.Options{
		IdleTimeout:     cfg.Chat.SessionIdleTimeout,
		AnswerTimeout:   cfg.AI.AnswerTimeout,
		HistoryLimit:    cfg.AI.HistoryLimit,
		AllowConcurrent: cfg.Chat.AllowConcurrent,
		Voice:           cfg.Speech.TTSVoice,
	})
	go manager.Run(ctx)

	connections := speech.NewConnectionManager()

	router := handler.NewRouter(handler.RouterOptions{
		Profiles:       profiles,
		Sessions:       manager,
		Connections:    connections,
		ServerTTS:      cfg.Speech.ServerTTS,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	startServer(ctx, cfg.Server, router, func() {
		// 已升级的 WebSocket 不受 http.Server.Shutdown 管理
		connections.CloseAll()
		manager.Shutdown()
	})
}

func loadProfiles(path string) (*profile.MemoryStore, error) {
	if path == "" {
		return profile.NewMemoryStore(nil), nil
	}
	items, err := profile.LoadFile(path)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded %d profiles from %s", len(items), path)
	return profile.NewMemoryStore(items), nil
}

func newAnswerer(ctx context.Context, cfg config.AIConfig, p profile.Profile) (chatService.Answerer, error) {
	switch cfg.Provider {
	case config.ProviderArk:
		svc, err := ai.NewService(ctx, cfg, p)
		if err != nil {
			return nil, err
		}
		log.Printf("AI service initialized with Ark model %s (stream=%v)", cfg.Model, cfg.StreamResponse)
		return svc, nil
	case config.ProviderOpenAI:
		svc, err := ai.NewOpenAIAnswerer(cfg.OpenAI, p, cfg.StreamResponse)
		if err != nil {
			return nil, err
		}
		log.Printf("AI service initialized with OpenAI model %s", cfg.OpenAI.Model)
		return svc, nil
	default:
		log.Println("AI 凭证未配置，使用演示回答器")
		return ai.NewMockAnswerer(500 * time.Millisecond), nil
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, onShutdown func()) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv.RegisterOnShutdown(onShutdown)

	log.Printf("Z Counsel backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
