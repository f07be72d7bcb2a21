package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Listen string
		Port   int16
	} `yaml:"http"`

	DB struct {
		Driver           string
		ConnectionString string `yaml:"connectionString"`
	} `yaml:"db"`

	Dump struct {
		// The URL of the registry's bulk export archive. A HEAD request
		// against this URL is used to detect whether a newer dump exists.
		URL string
		// Where archives are downloaded and extracted. Extracted dumps are
		// folders named like `2024-01-10-020047`.
		Directory string
		// How often to check for a new dump, in minutes.
		IntervalMinutes int32 `yaml:"intervalMinutes"`
		// Download rows dated within this many days of the newest
		// previously-imported date are re-imported to pick up revised counts.
		ReimportWindowDays int32 `yaml:"reimportWindowDays"`
		// An extracted dump counts as fresh for this long after its timestamp.
		FreshForHours int32 `yaml:"freshForHours"`
	} `yaml:"dump"`

	Search struct {
		// The maximum number of results returned for one query.
		MaxResults int `yaml:"maxResults"`
		// When true, partial name matches are weighted quadratically. This is
		// the variant intended for use alongside the full-text index.
		QuadraticPartial bool `yaml:"quadraticPartial"`
		Weights          struct {
			Name     float64
			Keyword  float64
			Category float64
			FullText float64 `yaml:"fullText"`
		} `yaml:"weights"`
	} `yaml:"search"`

	FullText struct {
		Enabled bool
		// Path of the on-disk bleve index.
		Path string
	} `yaml:"fulltext"`
}

func Read() (*Config, error) {
	data, err := os.ReadFile("./config.yml")
	if err != nil {
		return nil, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	applyDefaults(config)

	if config.Dump.URL == "" {
		return nil, fmt.Errorf("dump.url is required")
	}

	return config, nil
}

func applyDefaults(config *Config) {
	if config.HTTP.Listen == "" {
		config.HTTP.Listen = "0.0.0.0"
	}
	if config.HTTP.Port == 0 {
		config.HTTP.Port = 8080
	}
	if config.DB.Driver == "" {
		config.DB.Driver = "sqlite"
	}
	if config.DB.ConnectionString == "" {
		config.DB.ConnectionString = "./delve.db"
	}
	if config.Dump.Directory == "" {
		config.Dump.Directory = "."
	}
	if config.Dump.IntervalMinutes <= 0 {
		config.Dump.IntervalMinutes = 60
	}
	if config.Dump.ReimportWindowDays <= 0 {
		config.Dump.ReimportWindowDays = 7
	}
	if config.Dump.FreshForHours <= 0 {
		config.Dump.FreshForHours = 24
	}
	if config.Search.MaxResults <= 0 {
		config.Search.MaxResults = 1000
	}
	if config.Search.Weights.Name == 0 {
		config.Search.Weights.Name = 100
	}
	if config.Search.Weights.Keyword == 0 {
		config.Search.Weights.Keyword = 10
	}
	if config.Search.Weights.Category == 0 {
		config.Search.Weights.Category = 25
	}
	if config.FullText.Enabled && config.Search.Weights.FullText == 0 {
		config.Search.Weights.FullText = 50
	}
	if config.FullText.Path == "" {
		config.FullText.Path = "./delve.bleve"
	}
}
