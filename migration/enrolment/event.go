package enrolment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pithecene-io/lmsmig/types"
)

// EventTemplate is a certificate generation event with placeholder values.
// Each event is a fresh copy with the record's values set.
type EventTemplate struct {
	raw []byte
}

// LoadEventTemplate reads and checks a JSON event template.
func LoadEventTemplate(path string) (*EventTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.FatalConfigError{Msg: "cannot read event template " + path, Err: err}
	}
	t, err := ParseEventTemplate(data)
	if err != nil {
		return nil, &types.FatalConfigError{Msg: "invalid event template " + path, Err: err}
	}
	return t, nil
}

// ParseEventTemplate checks that data holds every object an event needs.
func ParseEventTemplate(data []byte) (*EventTemplate, error) {
	t := &EventTemplate{raw: bytes.Clone(data)}
	if _, err := t.decode(); err != nil {
		return nil, err
	}
	return t, nil
}

// eventDoc is a decoded template with the objects Build writes into.
type eventDoc struct {
	root    map[string]any
	edata   map[string]any
	data0   map[string]any
	related map[string]any
	object  map[string]any
}

func (t *EventTemplate) decode() (*eventDoc, error) {
	dec := json.NewDecoder(bytes.NewReader(t.raw))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	d := &eventDoc{root: root}
	var err error
	if d.edata, err = object(root, "edata"); err != nil {
		return nil, err
	}
	if d.related, err = object(d.edata, "edata.related"); err != nil {
		return nil, err
	}
	if d.object, err = object(root, "object"); err != nil {
		return nil, err
	}
	list, ok := d.edata["data"].([]any)
	if !ok || len(list) == 0 {
		return nil, errors.New("edata.data must be a non-empty list")
	}
	if d.data0, ok = list[0].(map[string]any); !ok {
		return nil, errors.New("edata.data[0] must be an object")
	}
	return d, nil
}

func object(parent map[string]any, path string) (map[string]any, error) {
	key := path[strings.LastIndex(path, ".")+1:]
	m, ok := parent[key].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object", path)
	}
	return m, nil
}

// Build returns the event for one results row as a single JSON line.
func (t *EventTemplate) Build(rec *types.Record, mid string) ([]byte, error) {
	d, err := t.decode()
	if err != nil {
		return nil, err
	}
	userID := rec.Field(ColUserID)
	batchID := rec.Field(ColBatchID)

	d.edata["tag"] = batchID
	d.edata["issuedDate"] = issuedDate(rec.Field(ColCompletedOn))
	d.edata["userId"] = userID
	d.edata["courseName"] = rec.Field(ColCourseName)
	d.data0["recipientName"] = rec.Field(ColUserName)
	d.data0["recipientId"] = userID
	d.related["batchId"] = batchID
	d.related["courseId"] = rec.Field(ColCourseID)
	d.object["id"] = userID
	d.root["mid"] = mid

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d.root); err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// issuedDate keeps the date part of a results completion timestamp.
func issuedDate(completedOn string) string {
	day, _, _ := strings.Cut(strings.TrimSpace(completedOn), " ")
	return day
}

// MessageID returns the id an event is published under.
func MessageID(newID func() string) string {
	return "LMS." + newID()
}
