package httpkit

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"scenegen/internal/pkg/errors"
)

// MaxBodyBytes bounds request bodies read by DecodeValid.
const MaxBodyBytes = 1 << 20

// Schema is a compiled JSON schema for request bodies.
type Schema struct {
	schema *gojsonschema.Schema
}

// MustSchema compiles a schema given as a Go value. It panics on an invalid
// schema, so it is meant for package-level variables.
func MustSchema(def map[string]any) *Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def))
	if err != nil {
		panic("httpkit: invalid schema: " + err.Error())
	}
	return &Schema{schema: s}
}

// Validate checks raw JSON against the schema.
func (s *Schema) Validate(raw []byte) error {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeBadRequest, "httpkit.validate", "request body is not valid JSON")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	fields := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
		fields = append(fields, desc.Field())
	}
	return errors.Validation("invalid request body: "+strings.Join(msgs, "; ")).
		WithField("fields", fields)
}

// DecodeValid reads the request body, validates it against s and decodes it into v.
func DecodeValid(r *http.Request, s *Schema, v any) error {
	defer r.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeBadRequest, "httpkit.decode", "failed to read request body")
	}
	if len(raw) > MaxBodyBytes {
		return errors.New(errors.CodeBadRequest, "request body too large")
	}
	if err := s.Validate(raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.WrapWithCode(err, errors.CodeBadRequest, "httpkit.decode", "failed to decode request body")
	}
	return nil
}
