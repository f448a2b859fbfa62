package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	MethodScraping = "scraping"
	MethodCrawling = "crawling"
)

var (
	allowedMethods = []string{MethodScraping, MethodCrawling}
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	// JSON literals treated as "not provided".
	emptySources = map[string]bool{"null": true, `""`: true, "false": true, "0": true}
)

// ValidationError is a client input problem. Handlers answer it with 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// TriggerRequest asks for one run of the generation workflow.
type TriggerRequest struct {
	Sources        json.RawMessage
	RequesterEmail string
	Method         string
	Concise        *bool
}

func (r TriggerRequest) Validate() error {
	sources := bytes.TrimSpace(r.Sources)
	if len(sources) == 0 || emptySources[string(sources)] {
		return &ValidationError{Field: "sources", Reason: "required"}
	}
	email := strings.TrimSpace(r.RequesterEmail)
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}
	if !emailPattern.MatchString(email) {
		return &ValidationError{Field: "email", Reason: "invalid format"}
	}
	if r.Method != "" && !ValidMethod(r.Method) {
		return &ValidationError{Field: "method", Reason: "must be one of " + strings.Join(allowedMethods, ", ")}
	}
	return nil
}

func ValidMethod(method string) bool {
	for _, m := range allowedMethods {
		if m == method {
			return true
		}
	}
	return false
}
