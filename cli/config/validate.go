package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pithecene-io/lmsmig/adapter/cql"
	"github.com/pithecene-io/lmsmig/lms"
	"github.com/pithecene-io/lmsmig/types"
)

// Section names a part of the config a phase depends on.
type Section string

// Config sections.
const (
	SectionAPI         Section = "api"
	SectionCreator     Section = "creator"
	SectionUser        Section = "user"
	SectionCassandra   Section = "cassandra"
	SectionCertificate Section = "certificate"
	SectionIndex       Section = "index"
	SectionQueue       Section = "queue"
	SectionFramework   Section = "framework"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the top-level settings and every listed section.
// Problems are reported together as one FatalConfigError.
func (c *Config) Validate(sections ...Section) error {
	var problems []string
	check := func(prefix string, v any) {
		problems = append(problems, describe(prefix, validate.Struct(v))...)
	}

	check("", struct {
		BatchSize int       `yaml:"batch_size" validate:"gte=0"`
		Log       LogConfig `yaml:"log"`
	}{c.BatchSize, c.Log})

	for _, s := range sections {
		switch s {
		case SectionAPI:
			check("", c.API)
		case SectionCreator:
			if c.API.CreatorAccessToken == "" {
				problems = append(problems, "creator_access_token is required")
			}
		case SectionUser:
			if c.API.AccessToken == "" {
				problems = append(problems, "access_token is required")
			}
		case SectionCassandra:
			check("cassandra.", c.Cassandra)
			if _, _, err := c.CassandraHosts(); err != nil {
				problems = append(problems, err.Error())
			}
		case SectionCertificate:
			check("certificate.", c.Certificate)
			if len(c.Certificate.Templates) > 0 {
				if _, err := lms.SelectTemplate(c.Certificate.Templates, c.Certificate.TemplateKey); err != nil {
					problems = append(problems, err.Error())
				}
			}
		case SectionIndex:
			check("index.", c.Index)
		case SectionQueue:
			check("queue.", c.Queue)
		case SectionFramework:
			check("framework.", c.Framework)
		}
	}
	if c.Archive != nil {
		check("archive.", *c.Archive)
	}

	if len(problems) > 0 {
		return types.Fatalf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// describe flattens validator errors into "key is required" messages.
func describe(prefix string, err error) []string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "<Struct>.<field>...": drop the root struct name.
		ns := fe.Namespace()
		if i := strings.Index(ns, "."); i >= 0 {
			ns = ns[i+1:]
		}
		key := prefix + ns
		switch fe.Tag() {
		case "required", "required_if":
			out = append(out, key+" is required")
		case "url":
			out = append(out, fmt.Sprintf("%s must be a URL, got %q", key, fe.Value()))
		case "oneof":
			out = append(out, fmt.Sprintf("%s must be one of [%s], got %v", key, fe.Param(), fe.Value()))
		case "min":
			out = append(out, fmt.Sprintf("%s needs at least %s entries", key, fe.Param()))
		default:
			out = append(out, fmt.Sprintf("%s fails %s=%s", key, fe.Tag(), fe.Param()))
		}
	}
	return out
}

// CassandraHosts returns the contact points and port, from hosts/port or
// the legacy connection_url.
func (c *Config) CassandraHosts() ([]string, int, error) {
	cs := c.Cassandra
	port := cs.Port
	if len(cs.Hosts) > 0 {
		if port == 0 {
			port = cql.DefaultPort
		}
		return cs.Hosts, port, nil
	}
	if cs.ConnectionURL == "" {
		return nil, 0, errors.New("cassandra.hosts or cassandra.connection_url is required")
	}
	host, urlPort, err := cql.ParseConnectionURL(cs.ConnectionURL)
	if err != nil {
		return nil, 0, fmt.Errorf("cassandra.connection_url: %w", err)
	}
	if port == 0 {
		port = urlPort
	}
	return []string{host}, port, nil
}
