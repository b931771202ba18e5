package lms

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pithecene-io/lmsmig/types"
)

// ErrNoNodeID is returned when a term creation response carries no node id.
var ErrNoNodeID = errors.New("response has no node_id")

type userHit struct {
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type contentHit struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

// DecodeUsers reads result.response.content of a user search.
func DecodeUsers(body []byte) ([]types.Identifier, error) {
	var resp struct {
		Result struct {
			Response struct {
				Content []userHit `json:"content"`
			} `json:"response"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode user search: %w", err)
	}
	out := make([]types.Identifier, 0, len(resp.Result.Response.Content))
	for _, h := range resp.Result.Response.Content {
		if h.UserID == "" {
			continue
		}
		name := strings.TrimSpace(h.FirstName + " " + h.LastName)
		out = append(out, types.Identifier{ID: h.UserID, Name: name})
	}
	return out, nil
}

// DecodeCourses reads result.content of a composite search.
func DecodeCourses(body []byte) ([]types.Identifier, error) {
	var resp struct {
		Result struct {
			Content []contentHit `json:"content"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode course search: %w", err)
	}
	return hits(resp.Result.Content), nil
}

// DecodeBatches reads result.response.content of a batch list.
func DecodeBatches(body []byte) ([]types.Identifier, error) {
	var resp struct {
		Result struct {
			Response struct {
				Content []contentHit `json:"content"`
			} `json:"response"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode batch list: %w", err)
	}
	return hits(resp.Result.Response.Content), nil
}

func hits(in []contentHit) []types.Identifier {
	out := make([]types.Identifier, 0, len(in))
	for _, h := range in {
		if h.Identifier == "" {
			continue
		}
		out = append(out, types.Identifier{ID: h.Identifier, Name: h.Name})
	}
	return out
}

// DecodeNodeID reads result.node_id of a term creation, accepting either a
// list (first element) or a plain string.
func DecodeNodeID(body []byte) (string, error) {
	var resp struct {
		Result struct {
			NodeID json.RawMessage `json:"node_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode term create: %w", err)
	}
	raw := resp.Result.NodeID
	if len(raw) == 0 {
		return "", ErrNoNodeID
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 || list[0] == "" {
			return "", ErrNoNodeID
		}
		return list[0], nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", ErrNoNodeID
	}
	return s, nil
}
