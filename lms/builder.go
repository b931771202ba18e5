package lms

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pithecene-io/lmsmig/types"
)

// Credentials are the platform secrets and tenant identifier.
type Credentials struct {
	APIKey             string
	AccessToken        string
	CreatorAccessToken string
	ChannelID          string
}

// Builder produces typed requests for the platform API.
type Builder struct {
	creds Credentials
}

// NewBuilder creates a Builder.
func NewBuilder(creds Credentials) *Builder {
	return &Builder{creds: creds}
}

type headerOpt int

const (
	withCreator headerOpt = iota
	withUser
	withChannel
)

func (b *Builder) headers(opts ...headerOpt) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + b.creds.APIKey}
	for _, o := range opts {
		switch o {
		case withCreator:
			h["x-authenticated-user-token"] = b.creds.CreatorAccessToken
		case withUser:
			h["x-authenticated-user-token"] = b.creds.AccessToken
		case withChannel:
			h["X-Channel-Id"] = b.creds.ChannelID
		}
	}
	return h
}

func (b *Builder) request(method, target string, body any, opts ...headerOpt) (types.Request, error) {
	req := types.Request{
		Backend: types.BackendREST,
		Method:  method,
		Target:  target,
		Headers: b.headers(opts...),
	}
	if body != nil {
		data, err := Encode(body)
		if err != nil {
			return types.Request{}, fmt.Errorf("encode %s body: %w", target, err)
		}
		req.Body = data
	}
	return req, nil
}

// RemoveTemplate detaches the template identifier from a batch.
func (b *Builder) RemoveTemplate(courseID, batchID, identifier string) (types.Request, error) {
	body := Envelope[BatchTemplate]{Request: BatchTemplate{Batch: BatchTemplateBatch{
		CourseID: courseID,
		BatchID:  batchID,
		Template: Ref{Identifier: identifier},
	}}}
	return b.request(http.MethodPatch, PathTemplateRemove, body, withCreator)
}

// AddTemplate attaches tmpl to a batch.
func (b *Builder) AddTemplate(courseID, batchID string, tmpl *Template) (types.Request, error) {
	body := Envelope[BatchTemplate]{Request: BatchTemplate{Batch: BatchTemplateBatch{
		CourseID: courseID,
		BatchID:  batchID,
		Template: tmpl,
	}}}
	return b.request(http.MethodPatch, PathTemplateAdd, body, withCreator)
}

// UpdateBatchStartDate sets an open batch's start date.
func (b *Builder) UpdateBatchStartDate(courseID, batchID, startDate string) (types.Request, error) {
	body := Envelope[BatchUpdate]{Request: BatchUpdate{
		EnrollmentType: "open",
		StartDate:      startDate,
		Status:         1,
		CourseID:       courseID,
		ID:             batchID,
	}}
	return b.request(http.MethodPatch, PathBatchUpdate, body, withCreator, withChannel)
}

// SearchUser looks a user up by email.
func (b *Builder) SearchUser(email string) (types.Request, error) {
	body := Envelope[Search]{Request: Search{
		Filters: map[string]any{"email": email},
		Fields:  []string{"userId", "firstName", "lastName"},
	}}
	return b.request(http.MethodPost, PathUserSearch, body, withUser)
}

// SearchCourse looks a live course up by code. The limit of two lets an
// ambiguous code be detected.
func (b *Builder) SearchCourse(code string) (types.Request, error) {
	body := Envelope[Search]{Request: Search{
		Filters: map[string]any{"code": code, "status": []string{"Live"}},
		Fields:  []string{"identifier", "name"},
		Limit:   2,
	}}
	return b.request(http.MethodPost, PathCompositeSearch, body, withUser, withChannel)
}

// ListBatch looks an active batch up by name.
func (b *Builder) ListBatch(name string) (types.Request, error) {
	body := Envelope[Search]{Request: Search{
		Filters: map[string]any{"name": name, "status": []int{0, 1}},
		Fields:  []string{"identifier", "name"},
	}}
	return b.request(http.MethodPost, PathBatchList, body, withUser, withChannel)
}

// CreateFramework creates a skill-map framework on the configured channel.
func (b *Builder) CreateFramework(code, name, description string) (types.Request, error) {
	body := Envelope[Framework]{Request: Framework{Framework: FrameworkBody{
		Name:          name,
		Description:   description,
		Type:          "SkillMap",
		Code:          code,
		Channels:      []Ref{{Identifier: b.creds.ChannelID}},
		SystemDefault: "Yes",
	}}}
	return b.request(http.MethodPost, PathFrameworkCreate, body, withChannel)
}

// CreateCategory creates a category in framework.
func (b *Builder) CreateCategory(framework string, cat Category) (types.Request, error) {
	target := PathCategoryCreate + "?" + url.Values{"framework": {framework}}.Encode()
	body := Envelope[CategoryCreate]{Request: CategoryCreate{Category: cat}}
	return b.request(http.MethodPost, target, body, withChannel)
}

// CreateTerm creates a term in a framework category.
func (b *Builder) CreateTerm(framework, category string, term Term) (types.Request, error) {
	body := Envelope[TermCreate]{Request: TermCreate{Term: term}}
	return b.request(http.MethodPost, termTarget(PathTermCreate, framework, category), body, withChannel)
}

// UpdateTermAssociations replaces a term's associations.
func (b *Builder) UpdateTermAssociations(framework, category, nodeID string, ids []string) (types.Request, error) {
	var body Envelope[TermAssociations]
	body.Request.Term.Associations = make([]Ref, len(ids))
	for i, id := range ids {
		body.Request.Term.Associations[i] = Ref{Identifier: id}
	}
	target := termTarget(PathTermUpdate+url.PathEscape(nodeID), framework, category)
	return b.request(http.MethodPatch, target, body, withChannel)
}

// PublishFramework publishes a framework.
func (b *Builder) PublishFramework(code string) (types.Request, error) {
	return b.request(http.MethodPost, PathFrameworkPublish+url.PathEscape(code), struct{}{}, withChannel)
}

// DeleteCertificates builds the search index purge of a user's certificates
// for one batch.
func DeleteCertificates(index, userID, batchID string) (types.Request, error) {
	var body DeleteByQuery
	body.Query.Bool.Must = []map[string]map[string]string{
		{"match": {"recipient.id": userID}},
		{"match": {"training.batchId": batchID}},
	}
	data, err := Encode(body)
	if err != nil {
		return types.Request{}, err
	}
	return types.Request{
		Backend: types.BackendIndex,
		Method:  http.MethodPost,
		Target:  "/" + strings.Trim(index, "/") + "/_delete_by_query",
		Body:    data,
	}, nil
}

// termTarget keeps framework before category, matching the platform's
// documented query order.
func termTarget(path, framework, category string) string {
	return path + "?framework=" + url.QueryEscape(framework) + "&category=" + url.QueryEscape(category)
}
