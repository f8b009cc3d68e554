package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Model struct {
		ServerBin     string `yaml:"serverBin"`
		BasePath      string `yaml:"basePath"`
		LoraExclude   string `yaml:"loraExclude"`
		LoraSensitive string `yaml:"loraSensitive"`
		ContextLen    int    `yaml:"contextLen"`
		GPULayers     int    `yaml:"gpuLayers"`
		Threads       int    `yaml:"threads"`
		KVCache4Bit   bool   `yaml:"kvCache4bit"`
		Host          string `yaml:"host"`
		Port          int    `yaml:"port"`
		// single: both modes share one loaded model (adapter swap between
		// passes). per-mode: one server per adapter, needs the VRAM for two.
		Instances string `yaml:"instances"`
	} `yaml:"model"`

	Analyzer struct {
		ExcludeBin     string `yaml:"excludeBin"`
		SensitiveBin   string `yaml:"sensitiveBin"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
	} `yaml:"analyzer"`

	Run struct {
		MaxWorkers   int    `yaml:"maxWorkers"`
		MaxTokens    int    `yaml:"maxTokens"`
		PromptBudget int    `yaml:"promptBudget"`
		OutputDir    string `yaml:"outputDir"`
	} `yaml:"run"`

	Cache struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
		Flush   bool   `yaml:"flush"`
	} `yaml:"cache"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Server struct {
		Port      int    `yaml:"port"`
		AuthToken string `yaml:"authToken"`
	} `yaml:"server"`
}

// Load reads config.yaml and applies defaults plus env overrides for
// credentials (MINIO_ACCESS_KEY, MINIO_SECRET_KEY, SIDECAR_AUTH_TOKEN).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("SIDECAR_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Model.ServerBin == "" {
		c.Model.ServerBin = "llama-server"
	}
	if c.Model.ContextLen <= 0 {
		c.Model.ContextLen = 4096
	}
	if c.Model.Host == "" {
		c.Model.Host = "127.0.0.1"
	}
	if c.Model.Port == 0 {
		c.Model.Port = 8691
	}
	if c.Model.Instances == "" {
		c.Model.Instances = "single"
	}
	if c.Analyzer.TimeoutSeconds <= 0 {
		c.Analyzer.TimeoutSeconds = 30
	}
	if c.Run.MaxWorkers <= 0 {
		c.Run.MaxWorkers = 4
	}
	if c.Run.MaxTokens <= 0 {
		c.Run.MaxTokens = 4096
	}
	if c.Run.PromptBudget <= 0 {
		// Leave room for the completion inside the context window.
		c.Run.PromptBudget = c.Model.ContextLen - c.Run.MaxTokens
		if c.Run.PromptBudget < 1024 {
			c.Run.PromptBudget = 1024
		}
	}
	if c.Run.OutputDir == "" {
		c.Run.OutputDir = "./output"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "./.console-llm/cache.db"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8690
	}
}

// Validate checks that the files a run needs actually exist. Adapters are
// optional: a missing adapter means the base model runs un-specialized.
func (c *Config) Validate() error {
	if c.Model.BasePath == "" {
		return fmt.Errorf("model.basePath is required")
	}
	if _, err := os.Stat(c.Model.BasePath); err != nil {
		return fmt.Errorf("base model: %w", err)
	}
	for name, p := range map[string]string{
		"model.loraExclude":   c.Model.LoraExclude,
		"model.loraSensitive": c.Model.LoraSensitive,
	} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// AnalyzerTimeout as a duration.
func (c *Config) AnalyzerTimeout() time.Duration {
	return time.Duration(c.Analyzer.TimeoutSeconds) * time.Second
}

// MinioEnabled reports whether artifact upload is configured.
func (c *Config) MinioEnabled() bool {
	return c.Minio.Endpoint != "" && c.Minio.BucketName != ""
}
