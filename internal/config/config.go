// Package config provides configuration loading for mirrord.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Qdrant      QdrantConfig      `koanf:"qdrant"`
	Mirror      MirrorConfig      `koanf:"mirror"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Chunking    ChunkingConfig    `koanf:"chunking"`
	Sync        SyncConfig        `koanf:"sync"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// VectorStoreConfig selects and configures the authoritative store backend.
type VectorStoreConfig struct {
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
}

// ChromemConfig holds the embedded chromem-go backend configuration.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
}

// QdrantConfig holds the external Qdrant backend configuration.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     string `koanf:"api_key"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
}

// MirrorConfig holds the mirror store configuration.
type MirrorConfig struct {
	// DataDir is the directory holding the SQLite database.
	DataDir string `koanf:"data_dir"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"`
	BaseURL   string `koanf:"base_url"`
	APIKey    string `koanf:"api_key"`
	Model     string `koanf:"model"`
	ChatModel string `koanf:"chat_model"`
}

// ChunkingConfig holds text chunking configuration.
type ChunkingConfig struct {
	MaxChunkSize int `koanf:"max_chunk_size"`
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// SyncConfig holds reconciliation scheduling configuration.
type SyncConfig struct {
	// Interval between scheduled reconciliation runs. Zero disables the
	// schedule; reconciliation then runs only on API request.
	Interval time.Duration `koanf:"interval"`

	// RemoveOrphans lets scheduled runs delete mirror orphans.
	RemoveOrphans bool `koanf:"remove_orphans"`
}

// Validate checks the configuration for fatal problems. It runs at startup
// so misconfiguration fails fast, before any store is touched.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.VectorStore.Provider {
	case "chromem":
		if c.VectorStore.Chromem.VectorSize <= 0 {
			return fmt.Errorf("chromem vector size must be positive")
		}
	case "qdrant":
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host is required")
		}
		if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", c.Qdrant.Port)
		}
		if c.Qdrant.VectorSize <= 0 {
			return fmt.Errorf("qdrant vector size must be positive")
		}
	default:
		return fmt.Errorf("unsupported vectorstore provider: %s (supported: chromem, qdrant)", c.VectorStore.Provider)
	}

	switch c.Embeddings.Provider {
	case "openai":
		if c.Embeddings.APIKey == "" {
			return fmt.Errorf("embeddings api_key is required for the openai provider")
		}
	case "tei":
		if c.Embeddings.BaseURL == "" {
			return fmt.Errorf("embeddings base_url is required for the tei provider")
		}
	default:
		return fmt.Errorf("unsupported embeddings provider: %s (supported: openai, tei)", c.Embeddings.Provider)
	}

	if c.Chunking.MaxChunkSize <= 0 {
		return fmt.Errorf("max_chunk_size must be positive")
	}
	if c.Chunking.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap cannot be negative")
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.MaxChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than max_chunk_size (%d)",
			c.Chunking.ChunkOverlap, c.Chunking.MaxChunkSize)
	}

	return nil
}
