package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"

	"github.com/chatling/chatling/pkg/genai"
	"github.com/chatling/chatling/pkg/kv"
	"github.com/chatling/chatling/pkg/pipeline"
	"github.com/chatling/chatling/pkg/session"
	"github.com/chatling/chatling/pkg/speech"
	"github.com/chatling/chatling/pkg/storage"
	"github.com/chatling/chatling/pkg/voice"
	"github.com/chatling/chatling/pkg/webapi"
)

var (
	flagConfig string
	flagListen string
	flagDebug  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant HTTP server",
	Long: `Run the assistant HTTP server.

Example:
  chatling serve --config chatling.yaml --listen :8000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagConfig, "config", "", "Path to chatling.yaml (defaults apply when omitted)")
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
	log := slog.Default()

	cfg := DefaultConfig()
	if flagConfig != "" {
		var err error
		if cfg, err = LoadConfig(flagConfig); err != nil {
			return err
		}
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	backend, closeBackend, err := openBackend(cfg.Sessions)
	if err != nil {
		return err
	}
	defer closeBackend()

	storeOpts := []session.StoreOption{session.WithLogger(log)}
	if cfg.Sessions.MaxHistoryTurns > 0 {
		storeOpts = append(storeOpts, session.WithMaxHistoryTurns(cfg.Sessions.MaxHistoryTurns))
	}
	if cfg.Sessions.CacheSessions > 0 {
		storeOpts = append(storeOpts, session.WithCacheSize(cfg.Sessions.CacheSessions))
	}
	store := session.NewStore(backend, storeOpts...)

	llm, err := newLLM(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	voices, err := voice.NewSelector(cfg.Voice)
	if err != nil {
		return err
	}

	ttsOpts := []speech.OpenAISynthesizerOption{}
	if cfg.TTS.Model != "" {
		ttsOpts = append(ttsOpts, speech.WithTTSModel(cfg.TTS.Model))
	}
	if cfg.TTS.Voice != "" {
		ttsOpts = append(ttsOpts, speech.WithTTSVoice(cfg.TTS.Voice))
	}
	if len(cfg.TTS.VoiceMap) > 0 {
		ttsOpts = append(ttsOpts, speech.WithTTSVoiceMap(cfg.TTS.VoiceMap))
	}
	synth := speech.NewOpenAISynthesizer(
		openaiClient(apiKey(cfg.TTS.APIKey, "OPENAI_API_KEY"), cfg.TTS.BaseURL),
		ttsOpts...)

	transcriber := speech.NewOpenAITranscriber(
		openaiClient(apiKey(cfg.ASR.APIKey, "OPENAI_API_KEY"), cfg.ASR.BaseURL),
		cfg.ASR.Model)

	artifacts, err := newArtifactStore(cfg)
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Config{
		LLM:         llm,
		Store:       store,
		Extractor:   session.NewExtractor(llm, store),
		Voices:      voices,
		Synthesizer: synth,
		OutputDir:   cfg.OutputDir,
		Persona:     cfg.Persona,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	api, err := webapi.NewServer(webapi.Config{
		Pipeline:    p,
		Store:       store,
		Transcriber: transcriber,
		Artifacts:   artifacts,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Info("shutting down")
		case <-ctx.Done():
		}
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "addr", cfg.Listen,
		"llm", cfg.LLM.Provider, "model", cfg.LLM.Model,
		"sessions", cfg.Sessions.Backend)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// openBackend builds the configured session backend and its cleanup.
func openBackend(cfg SessionsConfig) (session.Backend, func(), error) {
	switch cfg.Backend {
	case "", "dir":
		b, err := session.NewDirBackend(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil
	case "badger":
		store, err := kv.OpenBadger(kv.BadgerOptions{Dir: cfg.Dir})
		if err != nil {
			return nil, nil, err
		}
		return session.NewKVBackend(store), func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown sessions backend %q", cfg.Backend)
	}
}

func newLLM(ctx context.Context, cfg LLMConfig) (genai.Client, error) {
	switch cfg.Provider {
	case "", "openai":
		key := apiKey(cfg.APIKey, "OPENAI_API_KEY")
		if key == "" {
			return nil, errors.New("llm: api key is not set")
		}
		return genai.NewOpenAIClient(key, cfg.BaseURL, cfg.Model,
			genai.WithOpenAITemperature(cfg.Temperature)), nil
	case "gemini":
		key := apiKey(cfg.APIKey, "GEMINI_API_KEY")
		if key == "" {
			return nil, errors.New("llm: api key is not set")
		}
		return genai.NewGeminiClient(ctx, key, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func openaiClient(key, baseURL string) openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...)
}

// newArtifactStore serves audio from S3 when configured, local disk
// otherwise. The local store shares the synthesizer's output directory.
func newArtifactStore(cfg Config) (storage.ArtifactStore, error) {
	if cfg.S3 == nil {
		return storage.NewLocal(cfg.OutputDir)
	}
	s3cfg := cfg.S3
	opts := s3.Options{Region: s3cfg.Region}
	if s3cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(s3cfg.Endpoint)
		opts.UsePathStyle = true
	}
	if s3cfg.AccessKey != "" {
		opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     s3cfg.AccessKey,
				SecretAccessKey: s3cfg.SecretKey,
			}, nil
		})
	}
	return storage.NewS3(s3.New(opts), s3cfg.Bucket, s3cfg.Prefix), nil
}
