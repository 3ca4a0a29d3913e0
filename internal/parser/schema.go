package parser

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/joshu-sajeev/resumeflow/common"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/dto"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed resume.schema.json
var schemaJSON string

var (
	resumeSchema = jsonschema.MustCompileString("resume.schema.json", schemaJSON)
	validate     = validator.New()
)

// SchemaJSON returns the schema the parser output must satisfy. It is also
// sent to the model as instructions.
func SchemaJSON() string {
	return schemaJSON
}

// Validate checks untrusted parser output against the resume schema and the
// DTO's own constraints. Anything that does not conform is a permanent
// schema_validation failure; nothing is coerced.
func Validate(raw []byte) (*dto.ResumeData, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, common.Fail(config.ErrorTypeSchemaValidation, "parsed resume is not valid JSON", err)
	}

	if err := resumeSchema.Validate(doc); err != nil {
		return nil, common.Fail(config.ErrorTypeSchemaValidation, "parsed resume does not match the schema", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var out dto.ResumeData
	if err := dec.Decode(&out); err != nil {
		return nil, common.Fail(config.ErrorTypeSchemaValidation, "parsed resume does not match the schema", err)
	}

	if err := validate.Struct(&out); err != nil {
		return nil, common.Fail(config.ErrorTypeSchemaValidation, "parsed resume failed validation",
			fmt.Errorf("validate resume: %w", err))
	}

	return &out, nil
}
