package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

func (vr *ValidationResult) AddError(field, message string) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Message: message})
}

func (vr *ValidationResult) Error() string {
	if vr.Valid {
		return ""
	}
	parts := make([]string, 0, len(vr.Errors))
	for _, err := range vr.Errors {
		parts = append(parts, err.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Err returns nil when no error was added.
func (vr *ValidationResult) Err() error {
	if vr.Valid {
		return nil
	}
	return vr
}

// DecodeBody unmarshals the JSON request body into out.
func DecodeBody(ctx *fasthttp.RequestCtx, out any) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return &ValidationError{Field: "body", Message: "request body is required"}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}

// DecodeBodyOrFail decodes the body and answers 400 on failure.
func DecodeBodyOrFail(ctx *fasthttp.RequestCtx, out any) bool {
	if err := DecodeBody(ctx, out); err != nil {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func PathParam(ctx *fasthttp.RequestCtx, param string) string {
	if v := ctx.UserValue(param); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// ValidatePathParam answers 400 when the path parameter is empty.
func ValidatePathParam(ctx *fasthttp.RequestCtx, paramName string) (string, bool) {
	value := PathParam(ctx, paramName)
	if value == "" {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, paramName+" missing")
		return "", false
	}
	return value, true
}
