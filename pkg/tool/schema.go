package tool

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateArguments checks raw JSON arguments against the tool's
// declared parameter schema. A nil schema accepts anything.
func ValidateArguments(t Tool, arguments string) error {
	params := t.Definition().Function.Parameters
	if params == nil {
		return nil
	}
	if arguments == "" {
		arguments = "{}"
	}

	schemaLoader := gojsonschema.NewGoLoader(params)
	docLoader := gojsonschema.NewStringLoader(arguments)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("failed to validate tool arguments: %w", err)
	}
	if !result.Valid() {
		errors := []string{}
		for _, resultErr := range result.Errors() {
			errors = append(errors, resultErr.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}
	return nil
}
