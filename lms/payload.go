// Package lms builds the requests the migrations send to the learning
// platform and decodes its lookup responses.
//
// Every request body is a typed struct encoded once, so a dry run logs
// exactly the bytes a live run sends.
package lms

import (
	"bytes"
	"encoding/json"
)

// API paths.
const (
	PathTemplateRemove   = "/api/course/batch/cert/v1/template/remove"
	PathTemplateAdd      = "/api/course/batch/cert/v1/template/add"
	PathBatchUpdate      = "/api/course/v1/batch/update"
	PathUserSearch       = "/api/user/v1/search"
	PathCompositeSearch  = "/api/composite/v1/search"
	PathBatchList        = "/api/course/v1/batch/list"
	PathFrameworkCreate  = "/api/framework/v1/create"
	PathCategoryCreate   = "/api/framework/v1/category/create"
	PathTermCreate       = "/api/framework/v1/term/create"
	PathTermUpdate       = "/api/framework/v1/term/update/"
	PathFrameworkPublish = "/api/framework/v1/publish/"
)

// Envelope wraps every request body as {"request": ...}.
type Envelope[T any] struct {
	Request T `json:"request"`
}

// Ref points at an object by identifier.
type Ref struct {
	Identifier string `json:"identifier"`
}

// BatchTemplate is the body of template add and remove.
type BatchTemplate struct {
	Batch BatchTemplateBatch `json:"batch"`
}

// BatchTemplateBatch names the batch and the template.
type BatchTemplateBatch struct {
	CourseID string `json:"courseId"`
	BatchID  string `json:"batchId"`
	Template any    `json:"template"`
}

// BatchUpdate is the body of the batch update call.
type BatchUpdate struct {
	EnrollmentType string `json:"enrollmentType"`
	StartDate      string `json:"startDate"`
	Status         int    `json:"status"`
	CourseID       string `json:"courseId"`
	ID             string `json:"id"`
}

// Search is the body of the search and list calls.
type Search struct {
	Filters map[string]any `json:"filters"`
	Fields  []string       `json:"fields,omitempty"`
	Limit   int            `json:"limit,omitempty"`
}

// Framework is the body of framework creation.
type Framework struct {
	Framework FrameworkBody `json:"framework"`
}

// FrameworkBody describes a framework.
type FrameworkBody struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Type          string `json:"type"`
	Code          string `json:"code"`
	Channels      []Ref  `json:"channels"`
	SystemDefault string `json:"systemDefault"`
}

// Category is a framework category.
type Category struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	Code string `json:"code" yaml:"code" validate:"required"`
}

// CategoryCreate is the body of category creation.
type CategoryCreate struct {
	Category Category `json:"category"`
}

// Term is a taxonomy term.
type Term struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// TermCreate is the body of term creation.
type TermCreate struct {
	Term Term `json:"term"`
}

// TermAssociations is the body of a term association update.
type TermAssociations struct {
	Term struct {
		Associations []Ref `json:"associations"`
	} `json:"term"`
}

// DeleteByQuery is the search index delete-by-query body.
type DeleteByQuery struct {
	Query struct {
		Bool struct {
			Must []map[string]map[string]string `json:"must"`
		} `json:"bool"`
	} `json:"query"`
}

// Encode renders v as compact JSON without HTML escaping and without a
// trailing newline.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
