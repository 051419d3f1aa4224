package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/speech"
)

// Service 基于 OpenAI 音频接口的语音识别与合成
type Service struct {
	config *speech.SpeechConfig
	client openai.Client
}

// NewService 创建语音服务实例
func NewService(config *speech.SpeechConfig, opts ...option.RequestOption) *Service {
	reqOpts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(time.Duration(config.Timeout)*time.Second))
	}
	reqOpts = append(reqOpts, opts...)

	return &Service{
		config: config,
		client: openai.NewClient(reqOpts...),
	}
}

// Transcribe 语音转文字
func (s *Service) Transcribe(ctx context.Context, clip speech.AudioClip, locale string) (string, error) {
	if clip.Empty() {
		return "", nil
	}

	format := clip.Format
	if format == "" {
		format = "webm"
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(clip.Data), "utterance."+format, audioContentType(format)),
		Model: openai.AudioModel(s.config.STTModel),
	}
	if lang := TranscriptionLanguage(locale); lang != "" {
		params.Language = openai.String(lang)
	}

	resp, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Synthesize 文字转语音，返回完整音频
func (s *Service) Synthesize(ctx context.Context, u speech.Utterance) (speech.AudioClip, error) {
	if strings.TrimSpace(u.Text) == "" {
		return speech.AudioClip{}, nil
	}

	format := s.config.TTSFormat
	if format == "" {
		format = "mp3"
	}

	rate := u.Rate
	if s.config.Rate > 0 {
		rate *= s.config.Rate
	}

	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          u.Text,
		Model:          openai.SpeechModel(s.config.TTSModel),
		Voice:          openai.AudioSpeechNewParamsVoice(NormalizeVoice(s.config.TTSVoice)),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(format),
		Speed:          openai.Float(SpeedFromRate(rate)),
	})
	if err != nil {
		return speech.AudioClip{}, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return speech.AudioClip{}, fmt.Errorf("read speech audio: %w", err)
	}

	return speech.AudioClip{
		Data:      data,
		Format:    format,
		CreatedAt: time.Now().UTC(),
	}, nil
}
