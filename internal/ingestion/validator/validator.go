// Package validator checks ingestion requests before they reach the index
// and reports every problem per field.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/ingestion"
)

const (
	maxCollectionLength = 255
	maxKeyLength        = 1024
	maxIndexFields      = 64
	maxQueueLength      = 255
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func ValidateIndexRequest(req *ingestion.IndexRequest) error {
	errs := make(map[string]string)
	if msg := validateIdentity("collection", req.Collection, maxCollectionLength); msg != "" {
		errs["collection"] = msg
	}
	if msg := validateIdentity("key", req.Key, maxKeyLength); msg != "" {
		errs["key"] = msg
	}

	switch {
	case len(req.IndexFields) == 0:
		errs["index_fields"] = "at least one field to index is required"
	case len(req.IndexFields) > maxIndexFields:
		errs["index_fields"] = fmt.Sprintf("at most %d fields can be indexed", maxIndexFields)
	default:
		for _, f := range req.IndexFields {
			if strings.TrimSpace(f) == "" {
				errs["index_fields"] = "field names must not be empty"
				break
			}
		}
	}
	if len(req.Queue) > maxQueueLength {
		errs["queue"] = fmt.Sprintf("queue must be at most %d characters", maxQueueLength)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateOwner checks the identity used by DELETE requests.
func ValidateOwner(collection, key string) error {
	errs := make(map[string]string)
	if msg := validateIdentity("collection", collection, maxCollectionLength); msg != "" {
		errs["collection"] = msg
	}
	if msg := validateIdentity("key", key, maxKeyLength); msg != "" {
		errs["key"] = msg
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func validateIdentity(name, value string, max int) string {
	switch {
	case strings.TrimSpace(value) == "":
		return name + " is required"
	case len(value) > max:
		return fmt.Sprintf("%s must be at most %d characters", name, max)
	case strings.Contains(value, "/"):
		return name + " must not contain '/'"
	}
	return ""
}
