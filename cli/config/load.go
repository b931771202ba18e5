package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/lmsmig/lms"
	"github.com/pithecene-io/lmsmig/types"
)

// legacy holds the flat keys of the original script configs. Each one
// is honored only when its structured counterpart is unset.
type legacy struct {
	CertTemplates            map[string]*lms.Template `yaml:"cert_templates"`
	RemoveTemplateIdentifier string                   `yaml:"remove_template_identifier"`
	ESHost                   string                   `yaml:"es_host"`
	KafkaHost                string                   `yaml:"kafka_host"`
	KafkaTopic               string                   `yaml:"kafka_topic"`
	KafkaBatchSize           int                      `yaml:"kafka_batch_size"`
	CassandraBatchSleep      *float64                 `yaml:"cassandra_batch_sleep"`
}

// Load reads a YAML config file, expands environment variables, applies
// legacy aliases and defaults. It does not validate: call Validate with
// the sections the chosen phase needs.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.Fatalf("config file not found: %s", path)
		}
		return nil, &types.FatalConfigError{Msg: fmt.Sprintf("cannot read config file %q", path), Err: err}
	}
	return Parse([]byte(ExpandEnv(string(data))), path)
}

// Parse decodes already-expanded YAML. name labels errors.
func Parse(data []byte, name string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &types.FatalConfigError{Msg: fmt.Sprintf("invalid YAML in %s", name), Err: err}
	}
	var old legacy
	if err := yaml.Unmarshal(data, &old); err != nil {
		return nil, &types.FatalConfigError{Msg: fmt.Sprintf("invalid YAML in %s", name), Err: err}
	}
	cfg.applyLegacy(old)
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyLegacy(old legacy) {
	if len(c.Certificate.Templates) == 0 && len(old.CertTemplates) > 0 {
		c.Certificate.Templates = old.CertTemplates
	}
	if c.Certificate.RemoveTemplateIdentifier == "" {
		c.Certificate.RemoveTemplateIdentifier = old.RemoveTemplateIdentifier
	}
	if c.Index.Host == "" {
		c.Index.Host = old.ESHost
	}
	if len(c.Queue.Brokers) == 0 && old.KafkaHost != "" {
		for _, b := range strings.Split(old.KafkaHost, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Queue.Brokers = append(c.Queue.Brokers, b)
			}
		}
	}
	if c.Queue.Topic == "" {
		c.Queue.Topic = old.KafkaTopic
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = old.KafkaBatchSize
	}
	if c.BatchDelay.Duration == 0 && old.CassandraBatchSleep != nil && *old.CassandraBatchSleep > 0 {
		c.BatchDelay.Duration = time.Duration(*old.CassandraBatchSleep * float64(time.Second))
	}
}
