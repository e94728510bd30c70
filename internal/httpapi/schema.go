// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
)

// SchemaBaseID prefixes the $id of every published request schema.
const SchemaBaseID = "https://gatekeeper.dev/schemas/"

const (
	emailPattern = `^[^\s@]+@[^\s@]+\.[^\s@]+$`
	codePattern  = `^[0-9]{6}$`
)

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	Username string `json:"username" jsonschema:"required,minLength=3,maxLength=30"`
	Email    string `json:"email" jsonschema:"required"`
	Password string `json:"password" jsonschema:"required,minLength=8"`
}

// JSONSchemaExtend adds the email pattern.
func (SignupRequest) JSONSchemaExtend(s *jsonschema.Schema) { setPattern(s, "email", emailPattern) }

// VerifyOTPRequest is the body of POST /api/auth/verify-otp.
type VerifyOTPRequest struct {
	Email string `json:"email" jsonschema:"required"`
	Code  string `json:"code" jsonschema:"required"`
}

// JSONSchemaExtend adds the email and code patterns.
func (VerifyOTPRequest) JSONSchemaExtend(s *jsonschema.Schema) {
	setPattern(s, "email", emailPattern)
	setPattern(s, "code", codePattern)
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" jsonschema:"required"`
	Password string `json:"password" jsonschema:"required,minLength=8"`
}

// JSONSchemaExtend adds the email pattern.
func (LoginRequest) JSONSchemaExtend(s *jsonschema.Schema) { setPattern(s, "email", emailPattern) }

// RefreshRequest is the body of POST /api/auth/refresh and /api/auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" jsonschema:"required,minLength=1"`
}

// ForgotPasswordRequest is the body of POST /api/auth/password/forgot.
type ForgotPasswordRequest struct {
	Email string `json:"email" jsonschema:"required"`
}

// JSONSchemaExtend adds the email pattern.
func (ForgotPasswordRequest) JSONSchemaExtend(s *jsonschema.Schema) {
	setPattern(s, "email", emailPattern)
}

// ResetPasswordRequest is the body of POST /api/auth/password/reset.
type ResetPasswordRequest struct {
	Email       string `json:"email" jsonschema:"required"`
	Code        string `json:"code" jsonschema:"required"`
	NewPassword string `json:"newPassword" jsonschema:"required,minLength=8"`
}

// JSONSchemaExtend adds the email and code patterns.
func (ResetPasswordRequest) JSONSchemaExtend(s *jsonschema.Schema) {
	setPattern(s, "email", emailPattern)
	setPattern(s, "code", codePattern)
}

// SetRoleRequest is the body of PATCH /api/admin/users/:id/role.
type SetRoleRequest struct {
	Role string `json:"role" jsonschema:"required,enum=user,enum=moderator,enum=admin"`
}

func setPattern(s *jsonschema.Schema, property, pattern string) {
	if s.Properties == nil {
		return
	}
	if prop, ok := s.Properties.Get(property); ok {
		prop.Pattern = pattern
	}
}

// requestTypes maps schema names to the request structs they are reflected from.
var requestTypes = map[string]any{
	"signup":          &SignupRequest{},
	"verify-otp":      &VerifyOTPRequest{},
	"login":           &LoginRequest{},
	"refresh":         &RefreshRequest{},
	"forgot-password": &ForgotPasswordRequest{},
	"reset-password":  &ResetPasswordRequest{},
	"set-role":        &SetRoleRequest{},
}

// SchemaNames lists the published request schemas in a stable order.
var SchemaNames = []string{
	"signup", "verify-otp", "login", "refresh",
	"forgot-password", "reset-password", "set-role",
}

func reflectSchema(name string) (*jsonschema.Schema, error) {
	v, ok := requestTypes[name]
	if !ok {
		return nil, oops.Code("SCHEMA_UNKNOWN").With("name", name).Errorf("unknown request schema")
	}
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(v)
	schema.ID = jsonschema.ID(SchemaBaseID + name + ".json")
	return schema, nil
}

// GenerateSchema returns the indented JSON Schema for the named request body.
func GenerateSchema(name string) ([]byte, error) {
	schema, err := reflectSchema(name)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_MARSHAL_FAILED").With("name", name).Wrap(err)
	}
	return data, nil
}

// validators compiles every request schema once.
var validators = sync.OnceValues(func() (map[string]*jschema.Schema, error) {
	c := jschema.NewCompiler()
	for _, name := range SchemaNames {
		data, err := GenerateSchema(name)
		if err != nil {
			return nil, err
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
		}
		if err := c.AddResource(SchemaBaseID+name+".json", doc); err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
		}
	}

	compiled := make(map[string]*jschema.Schema, len(SchemaNames))
	for _, name := range SchemaNames {
		sch, err := c.Compile(SchemaBaseID + name + ".json")
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
		}
		compiled[name] = sch
	}
	return compiled, nil
})

// FieldError describes one schema violation in a request body.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// invalidBody carries the violations found by validateBody.
type invalidBody struct {
	fields []FieldError
}

func (e *invalidBody) Error() string {
	return fmt.Sprintf("request body failed validation (%d violations)", len(e.fields))
}

// validateBody checks body against the named schema and decodes it into dst.
func validateBody(name string, body []byte, dst any) error {
	compiled, err := validators()
	if err != nil {
		return err
	}
	sch, ok := compiled[name]
	if !ok {
		return oops.Code("SCHEMA_UNKNOWN").With("name", name).Errorf("unknown request schema")
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return &invalidBody{fields: []FieldError{{Field: "", Message: "Request body must be valid JSON"}}}
	}
	if err := sch.Validate(doc); err != nil {
		var verr *jschema.ValidationError
		if errors.As(err, &verr) {
			return &invalidBody{fields: fieldErrors(verr)}
		}
		return &invalidBody{fields: []FieldError{{Message: err.Error()}}}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return &invalidBody{fields: []FieldError{{Message: "Request body does not match the expected shape"}}}
	}
	return nil
}

// fieldErrors flattens the basic output of a validation error into leaf
// violations keyed by JSON pointer.
func fieldErrors(verr *jschema.ValidationError) []FieldError {
	out := verr.BasicOutput()
	fields := make([]FieldError, 0, len(out.Errors))
	for _, unit := range out.Errors {
		if unit.Error == nil {
			continue
		}
		fields = append(fields, FieldError{
			Field:   unit.InstanceLocation,
			Message: unit.Error.String(),
		})
	}
	if len(fields) == 0 {
		fields = append(fields, FieldError{Message: verr.Error()})
	}
	return fields
}
