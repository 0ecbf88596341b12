package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gertd/go-pluralize"
	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/Skryldev/car-service/models"
)

var pluralizer = pluralize.NewClient()

// Document is the OpenAPI 3.0 description served at /openapi.json and
// /openapi.yaml.
type Document struct {
	OpenAPI    string              `json:"openapi" yaml:"openapi"`
	Info       Info                `json:"info" yaml:"info"`
	Paths      map[string]PathItem `json:"paths" yaml:"paths"`
	Components Components          `json:"components" yaml:"components"`
	Tags       []Tag               `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Info is the document metadata.
type Info struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version" yaml:"version"`
}

// Tag groups operations.
type Tag struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// PathItem describes operations available on a path.
type PathItem struct {
	Get    *Operation `json:"get,omitempty" yaml:"get,omitempty"`
	Post   *Operation `json:"post,omitempty" yaml:"post,omitempty"`
	Put    *Operation `json:"put,omitempty" yaml:"put,omitempty"`
	Delete *Operation `json:"delete,omitempty" yaml:"delete,omitempty"`
}

// Operation describes a single API operation.
type Operation struct {
	OperationID string              `json:"operationId" yaml:"operationId"`
	Summary     string              `json:"summary" yaml:"summary"`
	Tags        []string            `json:"tags,omitempty" yaml:"tags,omitempty"`
	Parameters  []Parameter         `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody *RequestBody        `json:"requestBody,omitempty" yaml:"requestBody,omitempty"`
	Responses   map[string]Response `json:"responses" yaml:"responses"`
}

// Parameter describes a path or query parameter.
type Parameter struct {
	Name     string `json:"name" yaml:"name"`
	In       string `json:"in" yaml:"in"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Schema   Schema `json:"schema" yaml:"schema"`
}

// RequestBody describes the accepted request payloads.
type RequestBody struct {
	Required bool                 `json:"required,omitempty" yaml:"required,omitempty"`
	Content  map[string]MediaType `json:"content" yaml:"content"`
}

// Response describes one status code of an operation.
type Response struct {
	Description string               `json:"description" yaml:"description"`
	Headers     map[string]Header    `json:"headers,omitempty" yaml:"headers,omitempty"`
	Content     map[string]MediaType `json:"content,omitempty" yaml:"content,omitempty"`
}

// Header describes a response header.
type Header struct {
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Schema      Schema `json:"schema" yaml:"schema"`
}

// MediaType binds a schema to a content type.
type MediaType struct {
	Schema Schema `json:"schema" yaml:"schema"`
}

// Schema is the subset of JSON Schema the car API needs.
type Schema struct {
	Ref        string            `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Type       string            `json:"type,omitempty" yaml:"type,omitempty"`
	Format     string            `json:"format,omitempty" yaml:"format,omitempty"`
	MaxLength  int               `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Required   []string          `json:"required,omitempty" yaml:"required,omitempty"`
	Properties map[string]Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items      *Schema           `json:"items,omitempty" yaml:"items,omitempty"`
	OneOf      []Schema          `json:"oneOf,omitempty" yaml:"oneOf,omitempty"`
}

// Components holds the reusable schemas.
type Components struct {
	Schemas map[string]Schema `json:"schemas" yaml:"schemas"`
}

// NewDocument describes the resource routes mounted under basePath.
func NewDocument(basePath string) *Document {
	singular := carResource
	plural := strings.TrimPrefix(CarPath, "/")
	title := strings.ToUpper(singular[:1]) + singular[1:]
	collection := basePath + CarPath
	item := collection + "/{id}"

	ref := func(name string) Schema { return Schema{Ref: "#/components/schemas/" + name} }
	jsonOf := func(s Schema) map[string]MediaType {
		return map[string]MediaType{"application/json": {Schema: s}}
	}
	idParam := []Parameter{{Name: "id", In: "path", Required: true, Schema: Schema{Type: "string", Format: "uuid"}}}
	input := &RequestBody{Required: true, Content: jsonOf(ref(title + "Input"))}
	location := map[string]Header{"Location": {
		Description: "URL of the " + singular,
		Schema:      Schema{Type: "string"},
	}}
	errResp := func(desc string) Response { return Response{Description: desc, Content: jsonOf(ref("Error"))} }
	tags := []string{plural}

	return &Document{
		OpenAPI: "3.0.3",
		Info: Info{
			Title:       title + " Service",
			Description: "Create, read, upsert and delete " + plural + ".",
			Version:     "1.0.0",
		},
		Paths: map[string]PathItem{
			collection: {
				Get: &Operation{
					OperationID: "list" + pluralizer.Plural(title),
					Summary:     "List all " + plural,
					Tags:        tags,
					Responses: map[string]Response{
						"200": {Description: "Every stored " + singular, Content: jsonOf(Schema{Type: "array", Items: ptr(ref(title))})},
						"500": errResp("Store failure"),
					},
				},
				Post: &Operation{
					OperationID: "create" + title,
					Summary:     "Create a " + singular + " under a generated id",
					Tags:        tags,
					RequestBody: input,
					Responses: map[string]Response{
						"201": {Description: "Created", Headers: location, Content: jsonOf(ref(title))},
						"400": errResp("Invalid body"),
						"500": errResp("Store failure"),
					},
				},
			},
			item: {
				Get: &Operation{
					OperationID: "get" + title,
					Summary:     "Get a " + singular + " by id",
					Tags:        tags,
					Parameters:  idParam,
					Responses: map[string]Response{
						"200": {Description: "The " + singular, Content: jsonOf(ref(title))},
						"400": errResp("Malformed id"),
						"404": errResp("Unknown id"),
						"500": errResp("Store failure"),
					},
				},
				Put: &Operation{
					OperationID: "upsert" + title,
					Summary:     "Create or replace the " + singular + " with this id",
					Tags:        tags,
					Parameters:  idParam,
					RequestBody: input,
					Responses: map[string]Response{
						"200": {Description: "Updated", Content: jsonOf(ref(title))},
						"201": {Description: "Created", Headers: location, Content: jsonOf(ref(title))},
						"400": errResp("Malformed id or invalid body"),
						"409": errResp("Concurrent modification"),
						"500": errResp("Store failure"),
					},
				},
				Delete: &Operation{
					OperationID: "delete" + title,
					Summary:     "Delete a " + singular + "; unknown ids are accepted",
					Tags:        tags,
					Parameters:  idParam,
					Responses: map[string]Response{
						"202": {Description: "Accepted"},
						"400": errResp("Malformed id"),
						"500": errResp("Store failure"),
					},
				},
			},
		},
		Components: Components{Schemas: map[string]Schema{
			title: {
				Type:     "object",
				Required: []string{"id", "make", "price"},
				Properties: map[string]Schema{
					"id":    {Type: "string", Format: "uuid"},
					"make":  {Type: "string", MaxLength: models.MakeMaxLen},
					"price": {Type: "number"},
				},
			},
			title + "Input": {
				Type:     "object",
				Required: []string{"make", "price"},
				Properties: map[string]Schema{
					"make":  {Type: "string", MaxLength: models.MakeMaxLen},
					"price": {OneOf: []Schema{{Type: "number"}, {Type: "string"}}},
				},
			},
			"Error": {
				Type:     "object",
				Required: []string{"error"},
				Properties: map[string]Schema{
					"error": {
						Type:     "object",
						Required: []string{"code", "message"},
						Properties: map[string]Schema{
							"code":    {Type: "string"},
							"message": {Type: "string"},
							"details": {Type: "array", Items: &Schema{
								Type: "object",
								Properties: map[string]Schema{
									"field":   {Type: "string"},
									"message": {Type: "string"},
								},
							}},
						},
					},
				},
			},
		}},
		Tags: []Tag{{Name: plural, Description: title + " inventory"}},
	}
}

func ptr[T any](v T) *T { return &v }

// registerOpenAPI mounts the JSON and YAML renderings of doc.
func registerOpenAPI(r chi.Router, doc *Document) {
	r.Get("/openapi.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	})
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		out, err := yaml.Marshal(doc)
		if err != nil {
			Error(w, http.StatusInternalServerError, "internal_error", "could not render the API description")
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(out)
	})
}
