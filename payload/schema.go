package payload

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// v1Schema checks field types only. Unknown keys are tolerated so newer
// writers can add optional fields without breaking v1 readers.
const v1Schema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"v": {"type": "integer"},
		"invoiceId": {"type": "integer", "minimum": 0},
		"amountCents": {"type": "string"},
		"invoices": {"type": "string"},
		"token": {"type": "string"},
		"refId": {"type": "string"}
	},
	"required": ["v", "invoiceId", "amountCents", "invoices", "token"]
}`

var v1SchemaLoader = gojsonschema.NewStringLoader(v1Schema)

func validateV1(doc []byte) error {
	result, err := gojsonschema.Validate(v1SchemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &FormatError{Reason: "schema validation", Err: err}
	}
	if result.Valid() {
		return nil
	}
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return &FormatError{Reason: "v1 schema: " + strings.Join(problems, "; ")}
}
