// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
)

// SchemaBaseURL prefixes the $id of every request schema.
const SchemaBaseURL = "https://authd.dev/schemas/"

// RegisterRequest is the body of POST /api/v1/auth/register.
type RegisterRequest struct {
	FirstName string `json:"firstName" jsonschema:"minLength=1,maxLength=100,description=Given name"`
	LastName  string `json:"lastName" jsonschema:"minLength=1,maxLength=100,description=Family name"`
	Email     string `json:"email" jsonschema:"format=email,maxLength=254"`
	Password  string `json:"password" jsonschema:"minLength=1,description=Plain-text password; only its hash is stored"`
}

// LoginRequest is the body of POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" jsonschema:"minLength=1,maxLength=254"`
	Password string `json:"password" jsonschema:"minLength=1"`
}

type requestSchema struct {
	file   string
	title  string
	target any
}

var requestSchemas = []requestSchema{
	{"register.schema.json", "Register request", &RegisterRequest{}},
	{"login.schema.json", "Login request", &LoginRequest{}},
}

// GenerateSchemas reflects the request bodies into JSON Schema documents,
// keyed by file name.
func GenerateSchemas() (map[string][]byte, error) {
	out := make(map[string][]byte, len(requestSchemas))
	for _, rs := range requestSchemas {
		data, err := generateSchema(rs)
		if err != nil {
			return nil, err
		}
		out[rs.file] = data
	}
	return out, nil
}

func generateSchema(rs requestSchema) ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(rs.target)
	schema.ID = jsonschema.ID(SchemaBaseURL + rs.file)
	schema.Title = rs.title

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").With("schema", rs.file).Wrap(err)
	}
	return data, nil
}

var compiledSchemas = sync.OnceValues(func() (map[string]*jschema.Schema, error) {
	c := jschema.NewCompiler()
	c.AssertFormat()

	out := make(map[string]*jschema.Schema, len(requestSchemas))
	for _, rs := range requestSchemas {
		data, err := generateSchema(rs)
		if err != nil {
			return nil, err
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", rs.file).Wrap(err)
		}
		url := SchemaBaseURL + rs.file
		if err := c.AddResource(url, doc); err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", rs.file).Wrap(err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", rs.file).Wrap(err)
		}
		out[rs.file] = sch
	}
	return out, nil
})

// FieldError describes one schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// decodeRequest validates body against the named schema and decodes it
// into dst. Violations are returned as a VALIDATION_FAILED error whose
// "fields" context holds the []FieldError.
func decodeRequest(file string, body []byte, dst any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return oops.Code(auth.CodeValidation).Errorf("request body is required")
	}
	inst, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return oops.Code(auth.CodeValidation).Errorf("request body is not valid JSON")
	}

	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	sch, ok := schemas[file]
	if !ok {
		return oops.Code("SCHEMA_NOT_FOUND").With("schema", file).Errorf("no schema for request")
	}

	if err := sch.Validate(inst); err != nil {
		var ve *jschema.ValidationError
		if !errors.As(err, &ve) {
			return oops.Code("SCHEMA_VALIDATE_FAILED").Wrap(err)
		}
		fields := fieldErrors(ve)
		msg := "invalid input"
		if len(fields) > 0 {
			msg = fields[0].Message
		}
		return oops.Code(auth.CodeValidation).With("fields", fields).Errorf("%s", msg)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return oops.Code(auth.CodeValidation).Errorf("request body does not match schema")
	}
	return nil
}

func fieldErrors(root *jschema.ValidationError) []FieldError {
	var out []FieldError
	var walk func(*jschema.ValidationError)
	walk = func(ve *jschema.ValidationError) {
		if len(ve.Causes) > 0 {
			for _, c := range ve.Causes {
				walk(c)
			}
			return
		}
		field := strings.Join(ve.InstanceLocation, ".")
		if req, ok := ve.ErrorKind.(*kind.Required); ok {
			for _, missing := range req.Missing {
				out = append(out, newFieldError(joinField(field, missing), "required"))
			}
			return
		}
		rule := ""
		if path := ve.ErrorKind.KeywordPath(); len(path) > 0 {
			rule = path[len(path)-1]
		}
		out = append(out, newFieldError(field, rule))
	}
	walk(root)
	return out
}

func joinField(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func newFieldError(field, rule string) FieldError {
	name := field
	if name == "" {
		name = "body"
	}
	var msg string
	switch rule {
	case "required":
		msg = name + " is required"
	case "minLength":
		msg = name + " must not be empty"
	case "maxLength":
		msg = name + " is too long"
	case "format":
		msg = name + " is not a valid email address"
	case "type":
		msg = name + " has the wrong type"
	default:
		msg = name + " is invalid"
	}
	return FieldError{Field: field, Rule: rule, Message: msg}
}
