package officesim

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/inject.schema.json
var injectSchemaJSON []byte

const injectSchemaURL = "https://bmoffice.dev/schemas/inject.schema.json"

var injectSchema = mustCompile(injectSchemaURL, injectSchemaJSON)

func mustCompile(url string, data []byte) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("officesim: bad embedded schema %s: %v", url, err))
	}
	return c.MustCompile(url)
}

// ErrInvalidEvent wraps schema violations of an injected event
var ErrInvalidEvent = errors.New("invalid event")

// ValidateInjectJSON validates a raw injection body
func ValidateInjectJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := injectSchema.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: %s", ErrInvalidEvent, describe(ve))
		}
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// ValidateInject validates an injection request
func ValidateInject(req protocol.InjectRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return ValidateInjectJSON(data)
}

// describe flattens a validation error tree into its leaf messages
func describe(ve *jsonschema.ValidationError) string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return loc + ": " + ve.Message
	}
	var buf bytes.Buffer
	for i, cause := range ve.Causes {
		if i > 0 {
			buf.WriteString("; ")
		}
		buf.WriteString(describe(cause))
	}
	return buf.String()
}
