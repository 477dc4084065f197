package http

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBodyBytes = 1 << 20

// Request schema names, relative to schemas/.
const (
	schemaRegister        = "register.json"
	schemaLogin           = "login.json"
	schemaRefresh         = "refresh.json"
	schemaListing         = "listing.json"
	schemaListingDecision = "listing_decision.json"
	schemaViewing         = "viewing.json"
	schemaViewingDecision = "viewing_decision.json"
	schemaRoleChange      = "role_change.json"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

var loadSchemas = sync.OnceValues(compileSchemas)

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	names, err := fs.Glob(schemaFiles, "schemas/*.json")
	if err != nil {
		return nil, fmt.Errorf("list request schemas: %w", err)
	}
	for _, name := range names {
		raw, err := schemaFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	compiled := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		compiled[path.Base(name)] = schema
	}
	return compiled, nil
}

// badRequestError is a client error detected before the services are called.
type badRequestError struct {
	Message string
	Fields  map[string]string
}

func (e *badRequestError) Error() string {
	return e.Message
}

// decodeJSON validates the request body against schemaName and decodes it
// into dst. An empty body is treated as an empty object.
func decodeJSON(w http.ResponseWriter, r *http.Request, schemaName string, dst any) error {
	schemas, err := loadSchemas()
	if err != nil {
		return fmt.Errorf("load request schemas: %w", err)
	}
	schema, ok := schemas[schemaName]
	if !ok {
		return fmt.Errorf("unknown request schema %q", schemaName)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &badRequestError{Message: errBadRequestBody.Error()}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return &badRequestError{Message: errBadRequestBody.Error()}
	}

	if err := schema.Validate(doc); err != nil {
		var vErr *jsonschema.ValidationError
		if errors.As(err, &vErr) {
			return &badRequestError{
				Message: "request body does not match the expected schema",
				Fields:  schemaViolations(vErr),
			}
		}
		return fmt.Errorf("validate request body: %w", err)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return &badRequestError{Message: errBadRequestBody.Error()}
	}
	return nil
}

func schemaViolations(root *jsonschema.ValidationError) map[string]string {
	fields := make(map[string]string)
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := fieldName(e.InstanceLocation)
			if _, exists := fields[field]; !exists {
				fields[field] = e.Message
			}
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(root)
	return fields
}

func fieldName(location string) string {
	trimmed := strings.Trim(location, "/")
	if trimmed == "" {
		return "body"
	}
	return strings.ReplaceAll(trimmed, "/", ".")
}
