package config

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	// Extraction.
	BaseURL          string `mapstructure:"BASE_URL"`
	CredentialsPath  string `mapstructure:"CREDENTIALS"`
	GraphDatabaseURL string `mapstructure:"GRAPH_DATABASE_URL"`
	ProjectList      string `mapstructure:"PROJECT_LIST"`
	NodeTypes        string `mapstructure:"NODE_TYPES"`

	// Transformation.
	DictionaryURL    string `mapstructure:"DICTIONARY_URL"`
	SuppressedFields string `mapstructure:"SUPPRESSED_FIELDS"`
	LocalESFilePath  string `mapstructure:"LOCAL_ES_FILE_PATH"`

	// Loading.
	ESURL            string `mapstructure:"ES_URL"`
	IndexName        string `mapstructure:"INDEX_NAME"`
	ESBulkBatchSize  int    `mapstructure:"ES_BULK_BATCH_SIZE"`
	ESBulkMaxTries   int    `mapstructure:"ES_BULK_MAX_TRIES"`
	ESBulkRetryDelay int    `mapstructure:"ES_BULK_RETRY_DELAY_SECONDS"`
	ESRequestTimeout int    `mapstructure:"ES_REQUEST_TIMEOUT_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOCAL_ES_FILE_PATH", "etl.json")
	v.SetDefault("SUPPRESSED_FIELDS", "{}")
	v.SetDefault("ES_URL", "http://localhost:9200")
	v.SetDefault("ES_BULK_BATCH_SIZE", 1000)
	v.SetDefault("ES_BULK_MAX_TRIES", 3)
	v.SetDefault("ES_BULK_RETRY_DELAY_SECONDS", 60)
	v.SetDefault("ES_REQUEST_TIMEOUT_SECONDS", 60)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("BASE_URL")
	v.BindEnv("CREDENTIALS")
	v.BindEnv("GRAPH_DATABASE_URL")
	v.BindEnv("PROJECT_LIST")
	v.BindEnv("NODE_TYPES")
	v.BindEnv("DICTIONARY_URL")
	v.BindEnv("SUPPRESSED_FIELDS")
	v.BindEnv("LOCAL_ES_FILE_PATH")
	v.BindEnv("ES_URL")
	v.BindEnv("INDEX_NAME")
	v.BindEnv("ES_BULK_BATCH_SIZE")
	v.BindEnv("ES_BULK_MAX_TRIES")
	v.BindEnv("ES_BULK_RETRY_DELAY_SECONDS")
	v.BindEnv("ES_REQUEST_TIMEOUT_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Projects decodes PROJECT_LIST, a JSON list of "{program}-{project}" ids.
func (c *Config) Projects() ([]string, error) {
	return decodeStringList("PROJECT_LIST", c.ProjectList)
}

// NodeTypeList decodes NODE_TYPES, a JSON list of node type names.
func (c *Config) NodeTypeList() ([]string, error) {
	return decodeStringList("NODE_TYPES", c.NodeTypes)
}

func decodeStringList(name, raw string) ([]string, error) {
	if raw == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("%s is not a JSON list: %w", name, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%s is empty", name)
	}
	return list, nil
}
