package presets

import (
	"time"
)

// Field is one input parameter of a preset: its wire name, JSON type,
// whether it is required, an optional default and an optional enum.
type Field struct {
	Name     string  `json:"name"`
	Label    string  `json:"label"`
	Type     string  `json:"type"` // string | number | boolean
	Required bool    `json:"required"`
	Default  any     `json:"default,omitempty"`
	Enum     []any   `json:"enum,omitempty"`
}

// Preset maps a user-facing generation mode onto a provider network and the
// parameter schema accepted for it.
type Preset struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	JobType   string  `json:"job_type"`
	NetworkID string  `json:"network_id"`
	Fields    []Field `json:"fields"`

	// Polling overrides; zero means use the per-job-type default.
	PollTimeout  time.Duration `json:"-"`
	PollInterval time.Duration `json:"-"`
}

// Definitions is the static preset catalog.
var Definitions = []Preset{
	{
		ID: "text", Label: "Text", JobType: "text", NetworkID: "grok-4-1",
		Fields: []Field{
			{Name: "prompt", Label: "Prompt", Type: "string", Required: true},
			{Name: "temperature", Label: "Temperature", Type: "number", Default: 0.7},
			{Name: "max_tokens", Label: "Max tokens", Type: "number", Default: float64(512)},
			{Name: "translate_input", Label: "Translate input", Type: "boolean", Default: false},
		},
	},
	{
		ID: "image", Label: "Image", JobType: "image", NetworkID: "gpt-image-1-5",
		Fields: []Field{
			{Name: "prompt", Label: "Prompt", Type: "string", Required: true},
			{Name: "image_size", Label: "Image size", Type: "string", Default: "1024x1024",
				Enum: []any{"1024x1024", "1024x1536", "1536x1024"}},
			{Name: "quality", Label: "Quality", Type: "string", Default: "medium",
				Enum: []any{"low", "medium", "high"}},
			{Name: "translate_input", Label: "Translate input", Type: "boolean", Default: false},
		},
	},
	{
		ID: "video", Label: "Video", JobType: "video", NetworkID: "veo-3.1",
		Fields: []Field{
			{Name: "prompt", Label: "Prompt", Type: "string", Required: true},
			{Name: "mode", Label: "Mode", Type: "string", Default: "txt2video",
				Enum: []any{"txt2video", "img2video"}},
			{Name: "duration", Label: "Duration", Type: "number", Default: float64(8),
				Enum: []any{float64(5), float64(8), float64(10)}},
			{Name: "resolution", Label: "Resolution", Type: "string", Default: "720p",
				Enum: []any{"720p", "1080p"}},
			{Name: "aspect_ratio", Label: "Aspect ratio", Type: "string", Default: "16:9",
				Enum: []any{"16:9", "9:16", "1:1"}},
			{Name: "generate_audio", Label: "Generate audio", Type: "boolean", Default: false},
			{Name: "translate_input", Label: "Translate input", Type: "boolean", Default: false},
		},
	},
	{
		ID: "music", Label: "Music", JobType: "audio", NetworkID: "suno",
		Fields: []Field{
			{Name: "prompt", Label: "Prompt", Type: "string", Required: true},
			{Name: "title", Label: "Title", Type: "string", Required: true},
			{Name: "tags", Label: "Tags", Type: "string", Required: true},
			{Name: "model", Label: "Model", Type: "string", Default: "v5"},
			{Name: "translate_input", Label: "Translate input", Type: "boolean", Default: false},
		},
	},
	{
		ID: "tts", Label: "TTS", JobType: "audio", NetworkID: "tts-eleven-v3",
		Fields: []Field{
			{Name: "text", Label: "Text", Type: "string", Required: true},
			{Name: "voice", Label: "Voice", Type: "string", Default: "Alice"},
			{Name: "stability", Label: "Stability", Type: "string", Default: "model"},
			{Name: "similarity_boost", Label: "Similarity boost", Type: "string", Default: "model"},
			{Name: "style", Label: "Style", Type: "string", Default: "model"},
		},
	},
	{
		ID: "stt", Label: "STT", JobType: "audio", NetworkID: "silero-vad",
		Fields: []Field{
			{Name: "audio_url", Label: "Audio URL", Type: "string", Required: true},
		},
	},
	{
		ID: "upscale_image", Label: "Upscale image", JobType: "upscale", NetworkID: "seedvr",
		Fields: []Field{
			{Name: "image_url", Label: "Image URL", Type: "string", Required: true},
			{Name: "upscale_factor", Label: "Upscale factor", Type: "number", Default: float64(2)},
		},
	},
	{
		ID: "upscale_video", Label: "Upscale video", JobType: "upscale", NetworkID: "seedvr-video",
		PollTimeout: 30 * time.Minute,
		Fields: []Field{
			{Name: "video_url", Label: "Video URL", Type: "string", Required: true},
			{Name: "upscale_factor", Label: "Upscale factor", Type: "number", Default: float64(2)},
		},
	},
}

// Per-job-type polling defaults. Presets may override the timeout.
const defaultPollInterval = 2 * time.Second

var defaultTimeouts = map[string]time.Duration{
	"text":    2 * time.Minute,
	"image":   10 * time.Minute,
	"edit":    10 * time.Minute,
	"audio":   20 * time.Minute,
	"video":   30 * time.Minute,
	"upscale": 15 * time.Minute,
}

// PollingSettings is how long and how often the worker polls the provider
// for one job.
type PollingSettings struct {
	Timeout  time.Duration
	Interval time.Duration
}
