package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

// Request body schemas
const (
	schemaValuationRequest  = "valuation_request.json"
	schemaExtractionRequest = "extraction_request.json"
)

const maxBodyBytes = 1 << 20

var compiledSchemas = mustCompileSchemas(schemaValuationRequest, schemaExtractionRequest)

func mustCompileSchemas(names ...string) map[string]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	out := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		raw, err := schemaFiles.ReadFile("schemas/" + name)
		if err != nil {
			panic(fmt.Sprintf("read schema %s: %v", name, err))
		}
		url := "mem://schemas/" + name
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			panic(fmt.Sprintf("add schema %s: %v", name, err))
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("compile schema %s: %v", name, err))
		}
		out[name] = schema
	}
	return out
}

// bodyError is a request body rejected before it reached a handler
type bodyError struct {
	message    string
	violations []string
}

func (e *bodyError) Error() string { return e.message }

func (e *bodyError) respond(w http.ResponseWriter) {
	var details map[string]interface{}
	if len(e.violations) > 0 {
		details = map[string]interface{}{"violations": e.violations}
	}
	respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, e.message, details)
}

// decodeValidated reads the body, checks it against the named schema and
// decodes it into v.
func decodeValidated(r *http.Request, schemaName string, v interface{}) *bodyError {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return &bodyError{message: "Request body could not be read"}
	}
	if len(body) > maxBodyBytes {
		return &bodyError{message: "Request body too large"}
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return &bodyError{message: "Invalid JSON body"}
	}
	if err := compiledSchemas[schemaName].Validate(doc); err != nil {
		return &bodyError{message: "Request body does not match schema", violations: schemaViolations(err)}
	}
	if err := parseJSONBody(body, v); err != nil {
		return &bodyError{message: "Invalid request body"}
	}
	return nil
}

func schemaViolations(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	for _, e := range ve.BasicOutput().Errors {
		// the schema root entry only repeats that validation failed
		if e.KeywordLocation == "" {
			continue
		}
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		out = append(out, fmt.Sprintf("%s: %s", loc, e.Error))
	}
	if len(out) == 0 {
		out = append(out, ve.Error())
	}
	return out
}
