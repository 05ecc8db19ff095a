package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchemaValidator rejects request bodies that do not match a compiled schema before they reach
// the handler.
type JSONSchemaValidator struct {
	schema *jsonschema.Schema
}

func NewJSONSchemaValidator(name, schemaJSON string) (*JSONSchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, err
	}
	return &JSONSchemaValidator{schema: schema}, nil
}

// Validate checks an already decoded document.
func (v *JSONSchemaValidator) Validate(doc any) error {
	return v.schema.Validate(doc)
}

// Middleware checks the body against the schema and hands the handler an unread copy of it.
// Bodies must be a single JSON document; a Content-Type, when sent, must be application/json.
func (v *JSONSchemaValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
				WriteError(w, r, http.StatusUnsupportedMediaType, "unsupported_media_type", "body must be application/json")
				return
			}
		}
		if r.Body == nil {
			WriteError(w, r, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		body, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "")
				return
			}
			WriteError(w, r, http.StatusBadRequest, "invalid_request", "")
			return
		}

		doc, err := decodeSingleDocument(body)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		if err := v.schema.Validate(doc); err != nil {
			msg := err.Error()
			var ve *jsonschema.ValidationError
			if errors.As(err, &ve) {
				msg = leafMessage(ve)
			}
			WriteError(w, r, http.StatusBadRequest, "validation_error", msg)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// decodeSingleDocument keeps numbers as json.Number so the schema sees them unrounded.
func decodeSingleDocument(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after the JSON document")
	}
	return doc, nil
}

// leafMessage reports the most specific cause, which is the one a client can act on.
func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + ve.Message
}
