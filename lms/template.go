package lms

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"gopkg.in/yaml.v3"
)

// Embedded is a template attribute that operators may write either as a
// JSON string or as a structured YAML value. It is decoded once, at config
// load, into Value.
type Embedded struct {
	// Value is the decoded attribute (map, slice or scalar).
	Value any
	// FromString records that the attribute was given as embedded JSON text.
	FromString bool
}

func decodeEmbedded(name string, v any) (Embedded, error) {
	s, ok := v.(string)
	if !ok {
		return Embedded{Value: v}, nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return Embedded{}, fmt.Errorf("%s: invalid embedded JSON: %w", name, err)
	}
	return Embedded{Value: out, FromString: true}, nil
}

// embeddedKeys are the template attributes accepted as embedded JSON.
var embeddedKeys = []string{"criteria", "issuer", "signatoryList"}

// Template is a certificate template attached to a course batch.
type Template struct {
	Identifier    string
	Criteria      Embedded
	Issuer        Embedded
	SignatoryList Embedded
	// Fields holds every other attribute (name, url, previewUrl, ...).
	Fields map[string]any
}

// UnmarshalYAML decodes a template mapping, parsing embedded JSON
// attributes.
func (t *Template) UnmarshalYAML(n *yaml.Node) error {
	var raw map[string]any
	if err := n.Decode(&raw); err != nil {
		return err
	}
	return t.fromMap(raw)
}

func (t *Template) fromMap(raw map[string]any) error {
	id, _ := raw["identifier"].(string)
	if id == "" {
		return errors.New("template: identifier is required")
	}
	t.Identifier = id

	targets := map[string]*Embedded{
		"criteria":      &t.Criteria,
		"issuer":        &t.Issuer,
		"signatoryList": &t.SignatoryList,
	}
	for _, k := range embeddedKeys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		e, err := decodeEmbedded(k, v)
		if err != nil {
			return fmt.Errorf("template %s: %w", id, err)
		}
		*targets[k] = e
	}

	t.Fields = make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case "identifier", "criteria", "issuer", "signatoryList":
			continue
		}
		t.Fields[k] = v
	}
	return nil
}

// MarshalJSON renders the template as the API expects it, with embedded
// attributes as structured JSON.
func (t Template) MarshalJSON() ([]byte, error) {
	out := maps.Clone(t.Fields)
	if out == nil {
		out = map[string]any{}
	}
	out["identifier"] = t.Identifier
	if t.Criteria.Value != nil {
		out["criteria"] = t.Criteria.Value
	}
	if t.Issuer.Value != nil {
		out["issuer"] = t.Issuer.Value
	}
	if t.SignatoryList.Value != nil {
		out["signatoryList"] = t.SignatoryList.Value
	}
	return json.Marshal(out)
}

// SelectTemplate returns the template to attach: the one named by key, or
// the only configured template when key is empty. Any other case is
// ambiguous and returns an error.
func SelectTemplate(templates map[string]*Template, key string) (*Template, error) {
	if key != "" {
		t, ok := templates[key]
		if !ok || t == nil {
			return nil, fmt.Errorf("certificate template %q is not configured", key)
		}
		return t, nil
	}
	switch len(templates) {
	case 0:
		return nil, errors.New("no certificate template configured")
	case 1:
		for _, t := range templates {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%d certificate templates configured; set certificate.template_key to choose one", len(templates))
}
