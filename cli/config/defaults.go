package config

import (
	"time"

	"github.com/pithecene-io/lmsmig/lms"
)

// Defaults applied after loading.
const (
	DefaultBatchSize           = 50
	DefaultBatchDelay          = 100 * time.Millisecond
	DefaultTimeout             = 15 * time.Second
	DefaultKeyspace            = "sunbird_courses"
	DefaultCourseBatchTable    = "course_batch"
	DefaultUserEnrolmentsTable = "user_enrolments"
	DefaultIndexName           = "trainingcertificate"
	DefaultQueueTopic          = "generate_certificate_request"
	DefaultQueueBatchSize      = 100
	DefaultStateFile           = "term_ids.msgpack"
	DefaultEventsOutput        = "events.jsonl"
)

// DefaultCategories are the four taxonomy levels of a skill map.
func DefaultCategories() []lms.Category {
	return []lms.Category{
		{Name: "Domain", Code: "domain"},
		{Name: "Skill", Code: "skill"},
		{Name: "Sub Skill", Code: "subSkill"},
		{Name: "Observable Element", Code: "observableElement"},
	}
}

func (c *Config) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchDelay.Duration == 0 {
		c.BatchDelay.Duration = DefaultBatchDelay
	}
	if c.Timeout.Duration == 0 {
		c.Timeout.Duration = DefaultTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	cs := &c.Cassandra
	if cs.Keyspace == "" {
		cs.Keyspace = DefaultKeyspace
	}
	if cs.CourseBatchTable == "" {
		cs.CourseBatchTable = DefaultCourseBatchTable
	}
	if cs.UserEnrolmentsTable == "" {
		cs.UserEnrolmentsTable = DefaultUserEnrolmentsTable
	}

	if c.Index.Name == "" {
		c.Index.Name = DefaultIndexName
	}

	q := &c.Queue
	if q.Type == "" {
		switch {
		case len(q.Brokers) > 0:
			q.Type = QueueKafka
		case q.URL != "":
			q.Type = QueueRedis
		}
	}
	if q.Topic == "" {
		q.Topic = DefaultQueueTopic
	}
	if q.BatchSize == 0 {
		q.BatchSize = DefaultQueueBatchSize
	}

	if c.Events.Output == "" {
		c.Events.Output = DefaultEventsOutput
	}
	if c.Framework.StateFile == "" {
		c.Framework.StateFile = DefaultStateFile
	}
	if len(c.Framework.Categories) == 0 {
		c.Framework.Categories = DefaultCategories()
	}
}
