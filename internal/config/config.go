package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/recording"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	AI        AIConfig
	Chat      ChatConfig
	Speech    SpeechConfig
	SOS       SOSConfig
	RateLimit RateLimitConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	sos, err := loadSOSConfig()
	if err != nil {
		return nil, err
	}

	limit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Log:       loadLogConfig(),
		AI:        ai,
		Chat:      chat,
		Speech:    speech,
		SOS:       sos,
		RateLimit: limit,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string // text | json
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text")),
	}
}

// Provider 选择大模型后端。
type Provider string

const (
	ProviderArk    Provider = "ark"
	ProviderOpenAI Provider = "openai"
	ProviderRemote Provider = "remote"
	ProviderNone   Provider = ""
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider Provider

	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	// RemoteURL 指向另一个实例的 /api/chat 端点。
	RemoteURL string
	Timeout   time.Duration
}

// ArkEnabled 表示是否提供了 Ark 必需的密钥。
func (c AIConfig) ArkEnabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// Enabled 表示选定的后端是否可用。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.ArkEnabled()
	case ProviderOpenAI:
		return c.OpenAIKey != "" && c.OpenAIModel != ""
	case ProviderRemote:
		return c.RemoteURL != ""
	default:
		return false
	}
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("AI_TIMEOUT", 2*time.Minute)
	if err != nil {
		return AIConfig{}, err
	}

	cfg := AIConfig{
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
		OpenAIKey:     strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		OpenAIModel:   getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		RemoteURL:     strings.TrimSpace(os.Getenv("CHAT_BACKEND_URL")),
		Timeout:       timeout,
	}

	provider := Provider(strings.ToLower(strings.TrimSpace(os.Getenv("AI_PROVIDER"))))
	switch provider {
	case ProviderArk, ProviderOpenAI, ProviderRemote:
		cfg.Provider = provider
	case ProviderNone:
		cfg.Provider = detectProvider(cfg)
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	return cfg, nil
}

// detectProvider 在未显式指定时按凭证推断后端。
func detectProvider(cfg AIConfig) Provider {
	switch {
	case cfg.ArkEnabled():
		return ProviderArk
	case cfg.OpenAIKey != "":
		return ProviderOpenAI
	case cfg.RemoteURL != "":
		return ProviderRemote
	default:
		return ProviderNone
	}
}

// ChatConfig 描述会话行为。
type ChatConfig struct {
	StreamDeltas   bool
	SessionIdleTTL time.Duration
	ReapInterval   time.Duration
}

func loadChatConfig() (ChatConfig, error) {
	deltas, err := parseBoolEnv("CHAT_STREAM_DELTAS", true)
	if err != nil {
		return ChatConfig{}, err
	}

	ttl, err := parseDurationEnv("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return ChatConfig{}, err
	}

	interval, err := parseDurationEnv("SESSION_REAP_INTERVAL", time.Minute)
	if err != nil {
		return ChatConfig{}, err
	}

	return ChatConfig{StreamDeltas: deltas, SessionIdleTTL: ttl, ReapInterval: interval}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	APIKey    string
	BaseURL   string
	STTModel  string
	TTSModel  string
	TTSVoice  string
	TTSFormat string
	Rate      float32
	Pitch     float32
	Volume    float32
	Timeout   int
	Enabled   bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	rate, err := parseFloat32EnvOrDefault("SPEECH_RATE", 1)
	if err != nil {
		return SpeechConfig{}, err
	}
	pitch, err := parseFloat32EnvOrDefault("SPEECH_PITCH", 1)
	if err != nil {
		return SpeechConfig{}, err
	}
	volume, err := parseFloat32EnvOrDefault("SPEECH_VOLUME", 1)
	if err != nil {
		return SpeechConfig{}, err
	}

	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	baseURL := strings.TrimSpace(os.Getenv("SPEECH_BASE_URL"))
	// 如果没有专门的语音配置，尝试使用 OpenAI 配置
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		if baseURL == "" {
			baseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
		}
	}

	enabled, err := parseBoolEnv("SPEECH_ENABLED", apiKey != "")
	if err != nil {
		return SpeechConfig{}, err
	}

	return SpeechConfig{
		APIKey:    apiKey,
		BaseURL:   baseURL,
		STTModel:  getEnvOrDefault("SPEECH_STT_MODEL", "whisper-1"),
		TTSModel:  getEnvOrDefault("SPEECH_TTS_MODEL", "tts-1"),
		TTSVoice:  getEnvOrDefault("SPEECH_TTS_VOICE", "alloy"),
		TTSFormat: getEnvOrDefault("SPEECH_TTS_FORMAT", "mp3"),
		Rate:      rate,
		Pitch:     pitch,
		Volume:    volume,
		Timeout:   timeoutSeconds,
		Enabled:   enabled && apiKey != "",
	}, nil
}

// SOSConfig 描述紧急录像配置。
type SOSConfig struct {
	DurationCap time.Duration
	Tick        time.Duration
	StorageDir  string
	AcquireWait time.Duration
}

func loadSOSConfig() (SOSConfig, error) {
	durationCap, err := parseDurationEnv("SOS_DURATION_CAP", recording.DefaultDurationCap)
	if err != nil {
		return SOSConfig{}, err
	}
	tick, err := parseDurationEnv("SOS_TICK", time.Second)
	if err != nil {
		return SOSConfig{}, err
	}
	if tick <= 0 || durationCap < tick {
		return SOSConfig{}, fmt.Errorf("invalid SOS timing: cap=%s tick=%s", durationCap, tick)
	}
	wait, err := parseDurationEnv("SOS_ACQUIRE_TIMEOUT", 15*time.Second)
	if err != nil {
		return SOSConfig{}, err
	}

	return SOSConfig{
		DurationCap: durationCap,
		Tick:        tick,
		StorageDir:  strings.TrimSpace(os.Getenv("SOS_STORAGE_DIR")),
		AcquireWait: wait,
	}, nil
}

// RateLimitConfig 描述聊天端点的限流。
type RateLimitConfig struct {
	RedisAddr     string
	RedisPassword string
	Prefix        string
	Limit         int
	Window        time.Duration
}

// Enabled 仅在配置了 Redis 时启用限流。
func (c RateLimitConfig) Enabled() bool {
	return c.RedisAddr != "" && c.Limit > 0 && c.Window > 0
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	limit := 30
	if override, err := parseOptionalIntEnv("CHAT_RATE_LIMIT"); err != nil {
		return RateLimitConfig{}, err
	} else if override != nil {
		limit = *override
	}

	window, err := parseDurationEnv("CHAT_RATE_WINDOW", time.Minute)
	if err != nil {
		return RateLimitConfig{}, err
	}

	return RateLimitConfig{
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		Prefix:        getEnvOrDefault("CHAT_RATE_PREFIX", "sos:ratelimit"),
		Limit:         limit,
		Window:        window,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseFloat32EnvOrDefault(key string, defaultValue float32) (float32, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return float32(val), nil
}
