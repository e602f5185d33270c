package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	RAG          RAGConfig      `yaml:"rag"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	Store        StoreConfig    `yaml:"store"`
	Database     DatabaseConfig `yaml:"database"`
	Log          LogConfig      `yaml:"log"`
}

// RAGConfig holds chunking, retrieval and evidence budget parameters.
type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	K1      int `yaml:"k1"`
	K2      int `yaml:"k2"`
	SearchK int `yaml:"search_k"`

	MaxTotalChars        int `yaml:"max_total_chars"`
	MaxPerChunkChars     int `yaml:"max_per_chunk_chars"`
	PageMaxTotalChars    int `yaml:"page_max_total_chars"`
	PageMaxPerChunkChars int `yaml:"page_max_per_chunk_chars"`

	Expansion ExpansionConfig `yaml:"expansion"`

	MaxTableRows   int  `yaml:"max_table_rows"`
	BuildWorkers   int  `yaml:"build_workers"`
	EmbedBatchSize int  `yaml:"embed_batch_size"`
	StrictModel    bool `yaml:"strict_model"`
}

// ExpansionConfig selects the recall-pass expansion strategy.
type ExpansionConfig struct {
	Strategy   string   `yaml:"strategy"` // evidence | intent | fixed
	Hits       int      `yaml:"hits"`
	MaxTerms   int      `yaml:"max_terms"`
	Vocabulary []string `yaml:"vocabulary"`
}

type LLMConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend"` // file | postgres
	Dir           string `yaml:"dir"`
	CorpusRoot    string `yaml:"corpus_root"`
	Collection    string `yaml:"collection"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Driver   string `yaml:"driver"` // pgdriver | pq
	Debug    bool   `yaml:"debug"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

const (
	ExpansionEvidence = "evidence"
	ExpansionIntent   = "intent"
	ExpansionFixed    = "fixed"

	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present. LoadConfig
// decodes the file over it, so keys left out keep these values and explicit
// zeros (e.g. chunk_overlap: 0) are kept as written.
func Default() *Config {
	cfg := &Config{
		RAG: RAGConfig{StrictModel: true},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	r := &cfg.RAG
	if r.ChunkSize == 0 {
		r.ChunkSize = 1400
	}
	if r.ChunkOverlap == 0 {
		r.ChunkOverlap = 250
	}
	if r.K1 == 0 {
		r.K1 = 6
	}
	if r.K2 == 0 {
		r.K2 = 10
	}
	if r.SearchK == 0 {
		r.SearchK = 8
	}
	if r.MaxTotalChars == 0 {
		r.MaxTotalChars = 9000
	}
	if r.MaxPerChunkChars == 0 {
		r.MaxPerChunkChars = 1000
	}
	if r.PageMaxTotalChars == 0 {
		r.PageMaxTotalChars = 12000
	}
	if r.PageMaxPerChunkChars == 0 {
		r.PageMaxPerChunkChars = 1400
	}
	if r.Expansion.Strategy == "" {
		r.Expansion.Strategy = ExpansionEvidence
	}
	if r.Expansion.Hits == 0 {
		r.Expansion.Hits = 5
	}
	if r.Expansion.MaxTerms == 0 {
		r.Expansion.MaxTerms = 18
	}
	if r.MaxTableRows == 0 {
		r.MaxTableRows = 2000
	}
	if r.BuildWorkers == 0 {
		r.BuildWorkers = 4
	}
	if r.EmbedBatchSize == 0 {
		r.EmbedBatchSize = 64
	}

	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "ollama"
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = "nomic-embed-text"
	}
	if cfg.EmbedLLM.Dimension == 0 {
		cfg.EmbedLLM.Dimension = 768
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendFile
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "./resources/.rag_store"
	}
	if cfg.Store.CorpusRoot == "" {
		cfg.Store.CorpusRoot = "./resources/data"
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = "evidence"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	r := c.RAG
	if r.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", r.ChunkSize)
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", r.ChunkOverlap)
	}
	if r.K1 <= 0 || r.K2 <= 0 || r.SearchK <= 0 {
		return fmt.Errorf("rag.k1, rag.k2 and rag.search_k must be positive")
	}
	if r.MaxTotalChars <= 0 || r.MaxPerChunkChars <= 0 || r.PageMaxTotalChars <= 0 || r.PageMaxPerChunkChars <= 0 {
		return fmt.Errorf("rag evidence budgets must be positive")
	}
	switch r.Expansion.Strategy {
	case ExpansionEvidence, ExpansionIntent:
	case ExpansionFixed:
		if len(r.Expansion.Vocabulary) == 0 {
			return fmt.Errorf("rag.expansion.vocabulary is required for the fixed strategy")
		}
	default:
		return fmt.Errorf("unknown rag.expansion.strategy %q", r.Expansion.Strategy)
	}
	switch c.Store.Backend {
	case BackendFile:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if k := len(c.Store.EncryptionKey); k != 0 && k != 32 {
		return fmt.Errorf("store.encryption_key must be 32 bytes, got %d", k)
	}
	return nil
}
