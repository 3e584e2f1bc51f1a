// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/open-policy-agent/opa/rego"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

type factType string

const (
	factNumber  factType = "number"
	factBoolean factType = "boolean"
	factString  factType = "string"
)

// the project facts internal controls can test, together with their json type
var controlFields = map[string]factType{
	"minimum_approvals_required":                factNumber,
	"default_branch_protected":                  factBoolean,
	"auth_sso_enabled":                          factBoolean,
	"project_visibility":                        factString,
	"merge_request_prevent_author_approval":     factBoolean,
	"merge_request_prevent_committers_approval": factBoolean,
	"reset_approvals_on_push":                   factBoolean,
	"scanner_sast_running":                      factBoolean,
	"scanner_secret_detection_running":          factBoolean,
	"scanner_dependency_scanning_running":       factBoolean,
	"scanner_container_scanning_running":        factBoolean,
	"scanner_dast_running":                      factBoolean,
	"scanner_api_fuzzing_running":               factBoolean,
	"scanner_coverage_fuzzing_running":          factBoolean,
}

// PredefinedControls maps the name of a predefined internal control onto
// the only expression it may carry.
var PredefinedControls = map[string]dtos.ControlExpression{
	"minimum_approvals_required_2":              {Operator: ">=", Field: "minimum_approvals_required", Value: float64(2)},
	"default_branch_protected":                  {Operator: "=", Field: "default_branch_protected", Value: true},
	"auth_sso_enabled":                          {Operator: "=", Field: "auth_sso_enabled", Value: true},
	"project_visibility_not_internal":           {Operator: "!=", Field: "project_visibility", Value: "internal"},
	"project_visibility_not_public":             {Operator: "!=", Field: "project_visibility", Value: "public"},
	"merge_request_prevent_author_approval":     {Operator: "=", Field: "merge_request_prevent_author_approval", Value: true},
	"merge_request_prevent_committers_approval": {Operator: "=", Field: "merge_request_prevent_committers_approval", Value: true},
	"reset_approvals_on_push":                   {Operator: "=", Field: "reset_approvals_on_push", Value: true},
	"scanner_sast_running":                      {Operator: "=", Field: "scanner_sast_running", Value: true},
	"scanner_secret_detection_running":          {Operator: "=", Field: "scanner_secret_detection_running", Value: true},
	"scanner_dep_scanning_running":              {Operator: "=", Field: "scanner_dependency_scanning_running", Value: true},
	"scanner_container_scanning_running":        {Operator: "=", Field: "scanner_container_scanning_running", Value: true},
	"scanner_dast_running":                      {Operator: "=", Field: "scanner_dast_running", Value: true},
	"scanner_api_fuzzing_running":               {Operator: "=", Field: "scanner_api_fuzzing_running", Value: true},
	"scanner_coverage_fuzzing_running":          {Operator: "=", Field: "scanner_coverage_fuzzing_running", Value: true},
}

var regoOperators = map[string]string{
	"=":  "==",
	"!=": "!=",
	">":  ">",
	"<":  "<",
	">=": ">=",
	"<=": "<=",
}

const expressionSchemaURL = "compliance_control_expression.json"

func expressionSchemaDocument() map[string]any {
	operators := make([]any, 0, len(regoOperators))
	for _, op := range []string{"=", "!=", ">", "<", ">=", "<="} {
		operators = append(operators, op)
	}
	fields := make([]any, 0, len(controlFields))
	conditions := make([]any, 0, len(controlFields))
	for field, t := range controlFields {
		fields = append(fields, field)
		conditions = append(conditions, map[string]any{
			"if": map[string]any{
				"properties": map[string]any{"field": map[string]any{"const": field}},
			},
			"then": map[string]any{
				"properties": map[string]any{"value": map[string]any{"type": string(t)}},
			},
		})
	}
	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"required":             []any{"operator", "field", "value"},
		"additionalProperties": false,
		"properties": map[string]any{
			"operator": map[string]any{"type": "string", "enum": operators},
			"field":    map[string]any{"type": "string", "enum": fields},
			"value":    map[string]any{"type": []any{"number", "boolean", "string"}},
		},
		"allOf": conditions,
	}
}

var expressionSchema = func() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(expressionSchemaURL, expressionSchemaDocument()); err != nil {
		panic(err)
	}
	return compiler.MustCompile(expressionSchemaURL)
}()

const expressionNotObjectMessage = "should be a valid json object."

// ParseControlExpression decodes the expression of an internal control and
// validates it against the expression schema. The returned messages are
// relative to the expression field, the error is only set for failures of
// the schema validation itself.
func ParseControlExpression(raw string) (dtos.ControlExpression, []string, error) {
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return dtos.ControlExpression{}, []string{expressionNotObjectMessage}, nil
	}
	if _, ok := instance.(map[string]any); !ok {
		return dtos.ControlExpression{}, []string{expressionNotObjectMessage}, nil
	}

	if err := expressionSchema.Validate(instance); err != nil {
		var validationErr *jsonschema.ValidationError
		if !errors.As(err, &validationErr) {
			return dtos.ControlExpression{}, nil, err
		}
		return dtos.ControlExpression{}, schemaMessages(validationErr), nil
	}

	var expression dtos.ControlExpression
	if err := json.Unmarshal([]byte(raw), &expression); err != nil {
		return dtos.ControlExpression{}, []string{expressionNotObjectMessage}, nil
	}
	return expression, nil, nil
}

func schemaMessages(err *jsonschema.ValidationError) []string {
	if len(err.Causes) > 0 {
		var messages []string
		for _, cause := range err.Causes {
			for _, m := range schemaMessages(cause) {
				if !slices.Contains(messages, m) {
					messages = append(messages, m)
				}
			}
		}
		return messages
	}
	location := "/" + strings.Join(err.InstanceLocation, "/")
	switch k := err.ErrorKind.(type) {
	case *kind.Type:
		return []string{fmt.Sprintf("property '%s' is not of type: %s", location, strings.Join(k.Want, ", "))}
	case *kind.Required:
		return []string{fmt.Sprintf("root is missing required keys: %s", strings.Join(k.Missing, ", "))}
	case *kind.Enum:
		return []string{fmt.Sprintf("property '%s' is not one of the allowed values", location)}
	case *kind.AdditionalProperties:
		return []string{fmt.Sprintf("property '%s' has unknown keys: %s", location, strings.Join(k.Properties, ", "))}
	}
	return []string{fmt.Sprintf("property '%s' is invalid", location)}
}

// MatchesPredefined compares with the normalized json representation so
// 2 and 2.0 are equal.
func MatchesPredefined(name string, expression dtos.ControlExpression) (predefined bool, matches bool) {
	expected, ok := PredefinedControls[name]
	if !ok {
		return false, false
	}
	a, errA := json.Marshal(expected)
	b, errB := json.Marshal(expression)
	return true, errA == nil && errB == nil && bytes.Equal(a, b)
}

// ControlPolicy is an internal control expression compiled to rego.
type ControlPolicy struct {
	Expression dtos.ControlExpression
	query      rego.PreparedEvalQuery
}

func regoModule(expression dtos.ControlExpression) (string, error) {
	operator, ok := regoOperators[expression.Operator]
	if !ok {
		return "", fmt.Errorf("unsupported operator %q", expression.Operator)
	}
	if _, ok := controlFields[expression.Field]; !ok {
		return "", fmt.Errorf("unsupported field %q", expression.Field)
	}
	value, err := json.Marshal(expression.Value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`package compliance

import rego.v1

default allow := false

allow if {
	input[%q] %s %s
}
`, expression.Field, operator, value), nil
}

func NewControlPolicy(ctx context.Context, expression dtos.ControlExpression) (*ControlPolicy, error) {
	module, err := regoModule(expression)
	if err != nil {
		return nil, err
	}
	query, err := rego.New(
		rego.Query("data.compliance.allow"),
		rego.Module("control.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &ControlPolicy{Expression: expression, query: query}, nil
}

// Eval returns pass or fail. A fact the project does not provide fails the control.
func (p *ControlPolicy) Eval(ctx context.Context, facts map[string]any) (dtos.ComplianceStatus, error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(facts))
	if err != nil {
		return dtos.ComplianceStatusPending, err
	}
	if rs.Allowed() {
		return dtos.ComplianceStatusPass, nil
	}
	return dtos.ComplianceStatusFail, nil
}
