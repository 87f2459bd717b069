// Package config loads clipper settings from an optional YAML file and the
// process environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names an explicit config file when no flag is given.
const EnvConfigPath = "CLIPPER_CONFIG"

const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"

	StorageCOS   = "cos"
	StorageLocal = "local"

	CacheStorage = "storage"
	CacheRedis   = "redis"
)

type Config struct {
	Token      string `yaml:"token"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	WorkDir          string `yaml:"work_dir"`
	MaxClips         int    `yaml:"max_clips"`
	SubtitleMaxWords int    `yaml:"subtitle_max_words"`
	ChunkMaxWords    int    `yaml:"chunk_max_words"`
	FrameRate        int    `yaml:"frame_rate"`

	LLM          LLMConfig     `yaml:"llm"`
	Storage      StorageConfig `yaml:"storage"`
	MomentsCache CacheConfig   `yaml:"moments_cache"`
	Tools        ToolsConfig   `yaml:"tools"`

	// RunsDB is the SQLite ledger path. Empty disables run recording.
	RunsDB string `yaml:"runs_db"`
}

type LLMConfig struct {
	Provider        string           `yaml:"provider"`
	MaxOutputTokens int              `yaml:"max_output_tokens"`
	TokensPerMinute int              `yaml:"tokens_per_minute"`
	MaxBucket       int              `yaml:"max_bucket"`
	Gemini          GeminiConfig     `yaml:"gemini"`
	OpenRouter      OpenRouterConfig `yaml:"openrouter"`
}

type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type OpenRouterConfig struct {
	APIKey       string   `yaml:"api_key"`
	Model        string   `yaml:"model"`
	BaseURL      string   `yaml:"base_url"`
	AllowedHosts []string `yaml:"allowed_hosts"`
}

type StorageConfig struct {
	Backend   string `yaml:"backend"` // cos or local
	BucketURL string `yaml:"bucket_url"`
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
	// CacheBucketURL holds cached moments; empty means the source bucket.
	CacheBucketURL string `yaml:"cache_bucket_url"`
	LocalDir       string `yaml:"local_dir"`
}

type CacheConfig struct {
	Backend   string        `yaml:"backend"` // storage or redis
	RedisAddr string        `yaml:"redis_addr"`
	RedisTTL  time.Duration `yaml:"redis_ttl"`
}

type ToolsConfig struct {
	FFmpeg       string `yaml:"ffmpeg"`
	FFprobe      string `yaml:"ffprobe"`
	WhisperBin   string `yaml:"whisper_bin"`
	WhisperModel string `yaml:"whisper_model"`
	ASDDir       string `yaml:"asd_dir"`
	ASDPython    string `yaml:"asd_python"`
	ASDScript    string `yaml:"asd_script"`
	ASDModel     string `yaml:"asd_model"`
}

// Default returns the settings used when neither file nor environment
// says otherwise.
func Default() *Config {
	return &Config{
		ListenAddr:       ":8080",
		LogLevel:         "info",
		LogFormat:        "text",
		WorkDir:          os.TempDir(),
		MaxClips:         3,
		SubtitleMaxWords: 5,
		ChunkMaxWords:    3000,
		FrameRate:        25,
		LLM: LLMConfig{
			Provider:        ProviderGemini,
			MaxOutputTokens: 512,
			TokensPerMinute: 240000,
			MaxBucket:       240000,
			Gemini: GeminiConfig{
				BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai/",
				Model:   "gemini-2.5-flash",
			},
		},
		Storage:      StorageConfig{Backend: StorageCOS},
		MomentsCache: CacheConfig{Backend: CacheStorage, RedisTTL: 7 * 24 * time.Hour},
		Tools: ToolsConfig{
			FFmpeg:       "ffmpeg",
			FFprobe:      "ffprobe",
			WhisperBin:   ".cache/bin/whisper.cpp",
			WhisperModel: ".cache/models/ggml-base.bin",
			ASDDir:       "/asd",
			ASDPython:    "python",
			ASDScript:    "Columbia_test.py",
			ASDModel:     "weight/finetuning_TalkSet.model",
		},
	}
}

// DefaultSearchPaths returns the config file search order after
// $CLIPPER_CONFIG: ./clipper.yaml, then ~/.config/clipper/clipper.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"clipper.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "clipper", "clipper.yaml"))
	}
	return paths
}

// FindConfig locates a config file. An explicit path must exist. Otherwise
// the search paths are tried in order and "" is returned when none exists,
// since every setting can also come from the environment.
func FindConfig(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(EnvConfigPath)
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Load applies defaults, then the config file (if any), then environment
// variables. It returns the file path that was used.
func Load(explicit string) (*Config, string, error) {
	path, err := FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := load(path, os.LookupEnv)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		expanded := os.Expand(string(data), func(k string) string {
			v, _ := lookup(k)
			return v
		})
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	for _, v := range cfg.envVars() {
		raw, ok := lookup(v.name)
		if !ok || raw == "" {
			continue
		}
		if err := v.set(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", v.name, err)
		}
	}
	return cfg, nil
}

type envVar struct {
	name string
	set  func(string) error
}

func (c *Config) envVars() []envVar {
	return []envVar{
		str("TOKEN", &c.Token),
		str("LISTEN_ADDR", &c.ListenAddr),
		str("LOG_LEVEL", &c.LogLevel),
		str("LOG_FORMAT", &c.LogFormat),
		str("WORK_DIR", &c.WorkDir),
		integer("MAX_CLIPS", &c.MaxClips),
		integer("SUBTITLE_MAX_WORDS", &c.SubtitleMaxWords),
		integer("CHUNK_MAX_WORDS", &c.ChunkMaxWords),
		integer("FRAME_RATE", &c.FrameRate),

		str("LLM_PROVIDER", &c.LLM.Provider),
		integer("LLM_MAX_OUTPUT_TOKENS", &c.LLM.MaxOutputTokens),
		integer("GEMINI_TOKENS_PER_MINUTE", &c.LLM.TokensPerMinute),
		integer("GEMINI_MAX_BUCKET", &c.LLM.MaxBucket),
		str("GEMINI_API_KEY", &c.LLM.Gemini.APIKey),
		str("GEMINI_BASE_URL", &c.LLM.Gemini.BaseURL),
		str("GEMINI_MODEL", &c.LLM.Gemini.Model),
		str("OPENROUTER_API_KEY", &c.LLM.OpenRouter.APIKey),
		str("OPENROUTER_MODEL", &c.LLM.OpenRouter.Model),
		str("OPENROUTER_BASE_URL", &c.LLM.OpenRouter.BaseURL),
		list("OPENROUTER_ALLOWED_HOSTS", &c.LLM.OpenRouter.AllowedHosts),

		str("STORAGE", &c.Storage.Backend),
		str("COS_BUCKET_URL", &c.Storage.BucketURL),
		str("COS_SECRET_ID", &c.Storage.SecretID),
		str("COS_SECRET_KEY", &c.Storage.SecretKey),
		str("CLIPPER_CACHE_BUCKET_URL", &c.Storage.CacheBucketURL),
		str("LOCAL_STORAGE_DIR", &c.Storage.LocalDir),

		str("MOMENTS_CACHE", &c.MomentsCache.Backend),
		str("REDIS_ADDR", &c.MomentsCache.RedisAddr),
		duration("REDIS_CACHE_TTL", &c.MomentsCache.RedisTTL),

		str("RUNS_DB", &c.RunsDB),

		str("FFMPEG_PATH", &c.Tools.FFmpeg),
		str("FFPROBE_PATH", &c.Tools.FFprobe),
		str("WHISPER_BIN", &c.Tools.WhisperBin),
		str("WHISPER_MODEL", &c.Tools.WhisperModel),
		str("ASD_DIR", &c.Tools.ASDDir),
		str("ASD_PYTHON", &c.Tools.ASDPython),
		str("ASD_SCRIPT", &c.Tools.ASDScript),
		str("ASD_MODEL", &c.Tools.ASDModel),
	}
}

func str(name string, dst *string) envVar {
	return envVar{name, func(v string) error {
		*dst = strings.TrimSpace(v)
		return nil
	}}
}

func integer(name string, dst *int) envVar {
	return envVar{name, func(v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*dst = n
		return nil
	}}
}

func duration(name string, dst *time.Duration) envVar {
	return envVar{name, func(v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}}
}

// list splits a comma-separated value, dropping empty items.
func list(name string, dst *[]string) envVar {
	return envVar{name, func(v string) error {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
		return nil
	}}
}
