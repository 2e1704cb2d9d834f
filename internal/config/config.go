// Package config loads service configuration from a .env file and
// SCRIBE_* environment variables, env taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Gemini    GeminiConfig
	Storage   StorageConfig
	Chunking  ChunkingConfig
	Retrieval RetrievalConfig
	Chat      ChatConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port            int
	UploadDir       string
	MaxUploadBytes  int64
	ShutdownTimeout string
}

type GeminiConfig struct {
	APIKey      string
	ChatModel   string
	EmbedModel  string
	EmbedDim    int
	MaxTokens   int
	Temperature float64
}

type StorageConfig struct {
	DataDir string
}

type ChunkingConfig struct {
	Size    int
	Overlap int
}

type RetrievalConfig struct {
	TopK               int
	TopKContext        int
	RelevanceThreshold float64
}

type ChatConfig struct {
	MaxHistory int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:           8080,
			UploadDir:      filepath.Join(dataDir, "uploads"),
			MaxUploadBytes: 50 << 20,
		},
		Gemini: GeminiConfig{
			ChatModel:   "gemini-2.0-flash",
			EmbedModel:  "text-embedding-004",
			EmbedDim:    768,
			MaxTokens:   2048,
			Temperature: 0.7,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Chunking: ChunkingConfig{
			Size:    800,
			Overlap: 100,
		},
		Retrieval: RetrievalConfig{
			TopK:               10,
			TopKContext:        5,
			RelevanceThreshold: 0.3,
		},
		Chat: ChatConfig{
			MaxHistory: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "scribe")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".local", "share", "scribe")
}

// Load reads a .env file from the working directory (if present) and
// applies SCRIBE_* environment overrides on top of the defaults.
func Load() (Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()
	return loadFromEnv()
}

func loadFromEnv() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("missing required config: Gemini API key. Set it via environment variable SCRIBE_GEMINI_API_KEY")
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("invalid chunking.size %d: must be positive", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("invalid chunking.overlap %d: must be in [0, size)", c.Chunking.Overlap)
	}
	if c.Retrieval.RelevanceThreshold < 0 || c.Retrieval.RelevanceThreshold > 1 {
		return fmt.Errorf("invalid retrieval.relevance_threshold %g: must be in [0, 1]", c.Retrieval.RelevanceThreshold)
	}
	if c.Gemini.EmbedDim <= 0 {
		return fmt.Errorf("invalid gemini.embed_dim %d: must be positive", c.Gemini.EmbedDim)
	}
	return nil
}
