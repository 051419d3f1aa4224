package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"

	"github.com/trafficwatch/sos-assistant/backend/internal/config"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/chat"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/language"
	speechmodel "github.com/trafficwatch/sos-assistant/backend/internal/model/speech"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/ai"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/speech"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	mode := cli.StringP("mode", "m", "chat", "测试模式: chat, asr 或 tts")
	endpoint := cli.StringP("url", "u", "", "聊天端点，例如 http://localhost:8080/api/chat；留空则使用配置中的模型")
	text := cli.StringP("text", "t", "", "chat/tts 输入文本")
	audioPath := cli.StringP("audio", "a", "", "ASR 输入音频文件路径")
	outputPath := cli.StringP("out", "o", "", "TTS 输出音频文件路径 (默认根据格式自动生成)")
	lang := cli.StringP("lang", "l", "en", "语言代码: en, es, fr, de, ja, zh")
	timeout := cli.Duration("timeout", 45*time.Second, "请求超时时间")
	verbose := cli.BoolP("verbose", "v", false, "输出调试日志")
	cli.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level})))

	if err := godotenv.Load(*envFile); err != nil {
		slog.Debug("无法加载 .env，改用系统环境变量", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("配置加载失败", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	code := language.Resolve(*lang)

	switch *mode {
	case "chat":
		runChat(ctx, cfg, *endpoint, *text, code)
	case "asr":
		runASR(ctx, newSpeech(cfg), *audioPath, code)
	case "tts":
		runTTS(ctx, newSpeech(cfg), *text, *outputPath, code)
	default:
		cli.Usage()
		fatal("请通过 --mode=chat|asr|tts 指定测试模式", nil)
	}
}

func runChat(ctx context.Context, cfg *config.Config, endpoint, text string, code language.Code) {
	if strings.TrimSpace(text) == "" {
		fatal("chat 模式需要通过 --text 提供用户消息", nil)
	}

	var backend ai.Backend
	if endpoint != "" {
		backend = ai.NewRemoteBackend(endpoint, cfg.AI.Timeout)
	} else {
		var err error
		backend, err = ai.NewBackend(ctx, cfg.AI)
		if err != nil {
			fatal("模型后端初始化失败", err)
		}
	}

	slog.Info("开始流式对话测试", "language", code, "endpoint", endpoint)

	stream, err := backend.Stream(ctx, chat.CompletionRequest{
		Messages: []chat.Turn{{Role: chat.RoleUser, Content: strings.TrimSpace(text)}},
		Language: code,
	})
	if err != nil {
		fatal("请求失败", err)
	}
	defer stream.Close()

	started := time.Now()
	var first time.Duration
	deltas := 0
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Println()
			fatal("流式响应中断", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if deltas == 0 {
			first = time.Since(started)
		}
		deltas++
		fmt.Print(chunk.Content)
	}
	fmt.Println()

	slog.Info("对话完成", "deltas", deltas, "first_delta", first, "total", time.Since(started))
}

func newSpeech(cfg *config.Config) *speech.Service {
	if !cfg.Speech.Enabled {
		fatal("语音服务未启用，请先在环境变量中配置 SPEECH_API_KEY 或 OPENAI_API_KEY", nil)
	}
	return speech.NewService(&speechmodel.SpeechConfig{
		APIKey:    cfg.Speech.APIKey,
		BaseURL:   cfg.Speech.BaseURL,
		STTModel:  cfg.Speech.STTModel,
		TTSModel:  cfg.Speech.TTSModel,
		TTSVoice:  cfg.Speech.TTSVoice,
		TTSFormat: cfg.Speech.TTSFormat,
		Rate:      cfg.Speech.Rate,
		Pitch:     cfg.Speech.Pitch,
		Volume:    cfg.Speech.Volume,
		Timeout:   cfg.Speech.Timeout,
	})
}

func runASR(ctx context.Context, svc *speech.Service, audioPath string, code language.Code) {
	if audioPath == "" {
		fatal("ASR 模式需要通过 --audio 指定音频文件路径", nil)
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		fatal("读取音频文件失败", err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
	if format == "" {
		format = "wav"
	}

	slog.Info("开始进行 ASR 测试", "format", format, "locale", code.Locale(), "bytes", len(data))

	text, err := svc.Transcribe(ctx, speechmodel.AudioClip{Data: data, Format: format}, code.Locale())
	if err != nil {
		fatal("ASR 调用失败", err)
	}

	slog.Info("ASR 识别成功", "text", text)
}

func runTTS(ctx context.Context, svc *speech.Service, text, outputPath string, code language.Code) {
	if strings.TrimSpace(text) == "" {
		fatal("TTS 模式需要通过 --text 提供待合成文本", nil)
	}

	slog.Info("开始进行 TTS 测试", "locale", code.Locale())

	clip, err := svc.Synthesize(ctx, speechmodel.NewUtterance(text, code.Locale()))
	if err != nil {
		fatal("TTS 调用失败", err)
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), clip.Format)
	}
	if err := os.WriteFile(outputPath, clip.Data, 0o644); err != nil {
		fatal("写入音频文件失败", err)
	}

	slog.Info("TTS 合成成功", "out", outputPath, "bytes", len(clip.Data))
}

func fatal(msg string, err error) {
	if err != nil {
		slog.Error(msg, "error", err)
	} else {
		slog.Error(msg)
	}
	os.Exit(1)
}
