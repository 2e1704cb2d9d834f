package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kInt64
	kFloat
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "SCRIBE_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "SCRIBE_SERVER_UPLOAD_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.UploadDir = v.(string) },
	},
	{
		env: "SCRIBE_SERVER_MAX_UPLOAD_BYTES", typ: kInt64,
		apply: func(cfg *Config, v any) { cfg.Server.MaxUploadBytes = v.(int64) },
	},
	{
		env: "SCRIBE_GEMINI_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
	},
	{
		env: "SCRIBE_GEMINI_CHAT_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.ChatModel = v.(string) },
	},
	{
		env: "SCRIBE_GEMINI_EMBED_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.EmbedModel = v.(string) },
	},
	{
		env: "SCRIBE_GEMINI_EMBED_DIM", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Gemini.EmbedDim = v.(int) },
	},
	{
		env: "SCRIBE_GEMINI_MAX_TOKENS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Gemini.MaxTokens = v.(int) },
	},
	{
		env: "SCRIBE_GEMINI_TEMPERATURE", typ: kFloat,
		apply: func(cfg *Config, v any) { cfg.Gemini.Temperature = v.(float64) },
	},
	{
		env: "SCRIBE_STORAGE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "SCRIBE_CHUNKING_SIZE", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chunking.Size = v.(int) },
	},
	{
		env: "SCRIBE_CHUNKING_OVERLAP", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chunking.Overlap = v.(int) },
	},
	{
		env: "SCRIBE_RETRIEVAL_TOP_K", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
	},
	{
		env: "SCRIBE_RETRIEVAL_TOP_K_CONTEXT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.TopKContext = v.(int) },
	},
	{
		env: "SCRIBE_RETRIEVAL_RELEVANCE_THRESHOLD", typ: kFloat,
		apply: func(cfg *Config, v any) { cfg.Retrieval.RelevanceThreshold = v.(float64) },
	},
	{
		env: "SCRIBE_CHAT_MAX_HISTORY", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chat.MaxHistory = v.(int) },
	},
	{
		env: "SCRIBE_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kInt64:
			if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
