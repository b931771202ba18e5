package config

import (
	"fmt"
	"time"

	"github.com/pithecene-io/lmsmig/lms"
)

// Config represents an lmsmig YAML configuration file.
// Flags given on the command line override file values.
type Config struct {
	API APIConfig `yaml:",inline"`

	// DryRun is the file default; nil means true.
	DryRun     *bool    `yaml:"dry_run"`
	BatchSize  int      `yaml:"batch_size" validate:"gte=0"`
	BatchDelay Duration `yaml:"batch_delay"`
	Timeout    Duration `yaml:"timeout"`

	Log         LogConfig         `yaml:"log"`
	Cassandra   CassandraConfig   `yaml:"cassandra"`
	Certificate CertificateConfig `yaml:"certificate"`
	Index       IndexConfig       `yaml:"index"`
	Queue       QueueConfig       `yaml:"queue"`
	Events      EventsConfig      `yaml:"events"`
	Framework   FrameworkConfig   `yaml:"framework"`
	Archive     *ArchiveConfig    `yaml:"archive"`

	// Columns renames input columns: canonical name to file header.
	Columns map[string]string `yaml:"columns"`
}

// APIConfig holds the platform endpoint and credentials.
type APIConfig struct {
	Host               string `yaml:"host" validate:"required,url"`
	APIKey             string `yaml:"apikey" validate:"required"`
	AccessToken        string `yaml:"access_token"`
	CreatorAccessToken string `yaml:"creator_access_token"`
	ChannelID          string `yaml:"channel_id" validate:"required"`
}

// Credentials converts the API section for the request builder.
func (a APIConfig) Credentials() lms.Credentials {
	return lms.Credentials{
		APIKey:             a.APIKey,
		AccessToken:        a.AccessToken,
		CreatorAccessToken: a.CreatorAccessToken,
		ChannelID:          a.ChannelID,
	}
}

// LogConfig selects the log level and optional rotating file.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `yaml:"file"`
}

// CassandraConfig locates the course database.
type CassandraConfig struct {
	ConnectionURL       string   `yaml:"connection_url"`
	Hosts               []string `yaml:"hosts"`
	Port                int      `yaml:"port" validate:"gte=0,lte=65535"`
	Keyspace            string   `yaml:"keyspace" validate:"required"`
	CourseBatchTable    string   `yaml:"course_batch_table" validate:"required"`
	UserEnrolmentsTable string   `yaml:"user_enrolments_table" validate:"required"`
	Consistency         string   `yaml:"consistency"`
}

// CertificateConfig names the templates swapped on course batches.
type CertificateConfig struct {
	TemplateKey              string                   `yaml:"template_key"`
	RemoveTemplateIdentifier string                   `yaml:"remove_template_identifier" validate:"required"`
	Templates                map[string]*lms.Template `yaml:"templates" validate:"required,min=1"`
}

// IndexConfig locates the certificate search index.
type IndexConfig struct {
	Host string `yaml:"host" validate:"required,url"`
	Name string `yaml:"name" validate:"required"`
}

// Queue types.
const (
	QueueKafka = "kafka"
	QueueRedis = "redis"
)

// QueueConfig selects the event bus.
type QueueConfig struct {
	Type      string   `yaml:"type" validate:"required,oneof=kafka redis"`
	Brokers   []string `yaml:"brokers" validate:"required_if=Type kafka"`
	Topic     string   `yaml:"topic" validate:"required"`
	URL       string   `yaml:"url" validate:"required_if=Type redis"`
	Mode      string   `yaml:"mode" validate:"omitempty,oneof=publish list"`
	BatchSize int      `yaml:"batch_size" validate:"gte=0"`
}

// EventsConfig holds the certificate event template and output file.
type EventsConfig struct {
	Template string `yaml:"template"`
	Output   string `yaml:"output"`
}

// FrameworkConfig configures the taxonomy bootstrap.
type FrameworkConfig struct {
	StateFile  string         `yaml:"state_file" validate:"required"`
	Categories []lms.Category `yaml:"categories" validate:"required,min=1,dive"`
}

// ArchiveConfig enables the run archive.
type ArchiveConfig struct {
	Backend     string `yaml:"backend" validate:"omitempty,oneof=fs s3"`
	Path        string `yaml:"path" validate:"required"`
	Dataset     string `yaml:"dataset"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "100ms", "15s").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// DryRunDefault returns the file's dry_run value, true when unset.
func (c *Config) DryRunDefault() bool {
	if c.DryRun == nil {
		return true
	}
	return *c.DryRun
}
