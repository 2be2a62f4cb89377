package ixf

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNoPrefixes            = errors.New("No prefixes defined on exchange LAN")
	ErrMultipleVlansInPrefix = errors.New("We found that your IX-F output contained multiple VLANs for the prefixes defined for your exchange LAN.\n" +
		"This setup is not compatible as every VLAN is regarded as its own exchange LAN.")
	ErrNoSuitableAddress = errors.New("No suitable ipaddresses when validating against the enabled network protocols")

	errPreview = errors.New("preview")
)

// ValidationError holds messages per field (ipv4, ipv6, speed). It is
// stored on proposals as its JSON encoding.
type ValidationError struct {
	Fields map[string][]string
}

func newValidationError(field, format string, args ...any) *ValidationError {
	e := &ValidationError{Fields: map[string][]string{}}
	e.add(field, fmt.Sprintf(format, args...))
	return e
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return strings.Join(parts, "; ")
}

// JSON returns the encoding stored on Proposal.Error.
func (e *ValidationError) JSON() string {
	b, _ := json.Marshal(e.Fields)
	return string(b)
}

func parseValidationError(raw string) *ValidationError {
	var fields map[string][]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return &ValidationError{Fields: map[string][]string{"__all__": {raw}}}
	}
	return &ValidationError{Fields: fields}
}
