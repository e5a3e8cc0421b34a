// Package config resolves engine configuration from the environment, with an
// optional YAML overlay file for deployments that prefer config files over
// env vars (set ENGINE_CONFIG to its path).
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Config holds every tunable the engine reads at startup.
type Config struct {
	RedisHost string `yaml:"redis_host"`
	RedisPort int    `yaml:"redis_port"`

	MongoURI    string `yaml:"mongo_uri"`
	MongoDBName string `yaml:"mongo_db_name"`

	AutoCompleteWindowHours int `yaml:"auto_complete_time_window_hours"`
	MatchBatchSize          int `yaml:"match_batch_size"`
	MinMatchScore           int `yaml:"min_match_score"`
	MinRequiredCredits      int `yaml:"min_required_credits"`

	SpacyModelName               string `yaml:"spacy_model_name"`
	TransformerModelName         string `yaml:"transformer_model_name"`
	SentenceTransformerModelName string `yaml:"sentence_transformer_model_name"`

	// NotificationURL is the endpoint user notifications are POSTed to.
	NotificationURL string `yaml:"notification_url"`
	// EmbeddingURL points at the sentence-embedding provider. Empty means
	// the classifier runs degraded (misc fallback, zero semantic score).
	EmbeddingURL string `yaml:"embedding_url"`
	// NLPCacheDir holds downloaded model artifacts plus the bootstrap lock
	// and state files.
	NLPCacheDir string `yaml:"nlp_cache_dir"`

	// OpsListenAddr serves /healthz and /metrics.
	OpsListenAddr string `yaml:"ops_listen_addr"`
}

// Load reads the environment (after an optional YAML overlay) and validates
// the result. A missing Mongo URI is a startup error: the process is useless
// without its store.
func Load() (*Config, error) {
	cfg := &Config{
		RedisHost:                    envStr("REDIS_HOST", "redis"),
		MongoURI:                     os.Getenv("MONGO_URI"),
		MongoDBName:                  envStr("MONGO_DB_NAME", "neptune-cluster"),
		SpacyModelName:               envStr("SPACY_MODEL_NAME", "xx"),
		TransformerModelName:         envStr("TRANSFORMER_MODEL_NAME", "xlm-roberta-base"),
		SentenceTransformerModelName: envStr("SENTENCE_TRANSFORMER_MODEL_NAME", "paraphrase-multilingual-MiniLM-L12-v2"),
		NotificationURL:              envStr("NOTIFICATION_URL", "http://localhost:5000/api/notifications/send"),
		EmbeddingURL:                 os.Getenv("EMBEDDING_URL"),
		NLPCacheDir:                  envStr("NLP_CACHE_DIR", ".nlp-cache"),
		OpsListenAddr:                envStr("OPS_LISTEN_ADDR", ":9090"),
	}

	var err error
	if cfg.RedisPort, err = envInt("REDIS_PORT", 6379); err != nil {
		return nil, err
	}
	if cfg.AutoCompleteWindowHours, err = envInt("AUTO_COMPLETE_TIME_WINDOW_HOURS", 24); err != nil {
		return nil, err
	}
	if cfg.MatchBatchSize, err = envInt("MATCH_BATCH_SIZE", 1000); err != nil {
		return nil, err
	}
	if cfg.MinMatchScore, err = envInt("MIN_MATCH_SCORE", 5); err != nil {
		return nil, err
	}
	if cfg.MinRequiredCredits, err = envInt("MIN_REQUIRED_CREDITS", 60); err != nil {
		return nil, err
	}

	if path := os.Getenv("ENGINE_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile overlays values from a YAML file. Zero values in the file leave
// the env-derived value in place.
func (c *Config) applyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var overlay Config
	if err := yaml.NewDecoder(f).Decode(&overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.merge(&overlay)
	return nil
}

func (c *Config) merge(src *Config) {
	if src.RedisHost != "" {
		c.RedisHost = src.RedisHost
	}
	if src.RedisPort != 0 {
		c.RedisPort = src.RedisPort
	}
	if src.MongoURI != "" {
		c.MongoURI = src.MongoURI
	}
	if src.MongoDBName != "" {
		c.MongoDBName = src.MongoDBName
	}
	if src.AutoCompleteWindowHours != 0 {
		c.AutoCompleteWindowHours = src.AutoCompleteWindowHours
	}
	if src.MatchBatchSize != 0 {
		c.MatchBatchSize = src.MatchBatchSize
	}
	if src.MinMatchScore != 0 {
		c.MinMatchScore = src.MinMatchScore
	}
	if src.MinRequiredCredits != 0 {
		c.MinRequiredCredits = src.MinRequiredCredits
	}
	if src.SpacyModelName != "" {
		c.SpacyModelName = src.SpacyModelName
	}
	if src.TransformerModelName != "" {
		c.TransformerModelName = src.TransformerModelName
	}
	if src.SentenceTransformerModelName != "" {
		c.SentenceTransformerModelName = src.SentenceTransformerModelName
	}
	if src.NotificationURL != "" {
		c.NotificationURL = src.NotificationURL
	}
	if src.EmbeddingURL != "" {
		c.EmbeddingURL = src.EmbeddingURL
	}
	if src.NLPCacheDir != "" {
		c.NLPCacheDir = src.NLPCacheDir
	}
	if src.OpsListenAddr != "" {
		c.OpsListenAddr = src.OpsListenAddr
	}
}

func (c *Config) validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	if c.MatchBatchSize <= 0 {
		return fmt.Errorf("MATCH_BATCH_SIZE must be positive, got %d", c.MatchBatchSize)
	}
	if c.AutoCompleteWindowHours <= 0 {
		return fmt.Errorf("AUTO_COMPLETE_TIME_WINDOW_HOURS must be positive, got %d", c.AutoCompleteWindowHours)
	}
	return nil
}

// RedisAddr formats the host:port pair for the go-redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}
