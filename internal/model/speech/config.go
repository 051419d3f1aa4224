package speech

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	APIKey  string `json:"-"`
	BaseURL string `json:"baseUrl"`

	// 识别
	STTModel string `json:"sttModel"`

	// 合成
	TTSModel  string  `json:"ttsModel"`
	TTSVoice  string  `json:"ttsVoice"`
	TTSFormat string  `json:"ttsFormat"`
	Rate      float32 `json:"rate"`
	Pitch     float32 `json:"pitch"`
	Volume    float32 `json:"volume"`

	Timeout int `json:"timeout"` // seconds
}
