package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

type complianceFixture struct {
	namespace   models.Namespace
	framework   models.ComplianceFramework
	requirement models.ComplianceRequirement
}

func newComplianceFixture() complianceFixture {
	namespace := models.Namespace{Model: models.Model{ID: uuid.New()}, Type: models.NamespaceTypeGroup}
	namespace.TraversalPath = namespace.ID.String()
	framework := models.ComplianceFramework{Model: models.Model{ID: uuid.New()}, NamespaceID: namespace.ID, Name: "SOC 2"}
	return complianceFixture{
		namespace: namespace,
		framework: framework,
		requirement: models.ComplianceRequirement{
			Model:       models.Model{ID: uuid.New()},
			FrameworkID: framework.ID,
			NamespaceID: namespace.ID,
			Name:        "Access control",
		},
	}
}

func (f complianceFixture) internalControl(name, expression string) models.ComplianceRequirementsControl {
	return models.ComplianceRequirementsControl{
		RequirementID: f.requirement.ID,
		NamespaceID:   f.namespace.ID,
		Name:          name,
		ControlType:   dtos.ControlTypeInternal,
		Expression:    ptr(expression),
	}
}

func (f complianceFixture) externalControl(name, url string) models.ComplianceRequirementsControl {
	return models.ComplianceRequirementsControl{
		RequirementID:       f.requirement.ID,
		NamespaceID:         f.namespace.ID,
		Name:                "external_control",
		ControlType:         dtos.ControlTypeExternal,
		ExternalURL:         ptr(url),
		SecretToken:         ptr("s3cr3t"),
		ExternalControlName: ptr(name),
	}
}

func TestValidateFramework(t *testing.T) {
	f := newComplianceFixture()

	t.Run("should accept a framework of a root group", func(t *testing.T) {
		assert.Empty(t, ValidateFramework(f.framework, f.namespace, 0))
	})

	t.Run("should reject subgroups and user namespaces", func(t *testing.T) {
		subgroup := f.namespace
		subgroup.ParentID = ptr(uuid.New())
		assert.Equal(t, []string{"must be a root group."}, ValidateFramework(f.framework, subgroup, 0).Messages("namespace"))

		user := f.namespace
		user.Type = models.NamespaceTypeUser
		assert.Equal(t, []string{"must be a group, user namespaces are not supported."}, ValidateFramework(f.framework, user, 0).Messages("namespace"))
	})

	t.Run("should require a unique name", func(t *testing.T) {
		errs := ValidateFramework(f.framework, f.namespace, 1)
		assert.Equal(t, "Name has already been taken", errs.Error())
	})
}

func TestValidateRequirement(t *testing.T) {
	f := newComplianceFixture()

	t.Run("should accept a requirement below the limit", func(t *testing.T) {
		assert.Empty(t, ValidateRequirement(f.requirement, f.framework, MaxRequirementsPerFramework-1))
	})

	t.Run("should reject more than the maximum number of requirements", func(t *testing.T) {
		errs := ValidateRequirement(f.requirement, f.framework, MaxRequirementsPerFramework)
		assert.Equal(t, []string{fmt.Sprintf("cannot have more than %d requirements", MaxRequirementsPerFramework)}, errs.Messages("framework"))
	})

	t.Run("should require the namespace of the framework", func(t *testing.T) {
		requirement := f.requirement
		requirement.NamespaceID = uuid.New()
		assert.True(t, ValidateRequirement(requirement, f.framework, 0).Has("namespace"))
	})
}

func TestValidateFrameworkSetting(t *testing.T) {
	f := newComplianceFixture()
	project := models.Project{Namespace: models.Namespace{TraversalPath: f.namespace.ID.String() + "/" + uuid.NewString()}}

	t.Run("should accept a framework of the root namespace of the project", func(t *testing.T) {
		assert.Empty(t, ValidateFrameworkSetting(project, f.framework, 0))
	})

	t.Run("should limit the number of frameworks of a project", func(t *testing.T) {
		errs := ValidateFrameworkSetting(project, f.framework, MaxFrameworksPerProject)
		assert.Equal(t, "Project cannot have more than 20 frameworks", errs.Error())
	})

	t.Run("should reject a framework of another namespace", func(t *testing.T) {
		other := models.Project{Namespace: models.Namespace{TraversalPath: uuid.NewString()}}
		assert.True(t, ValidateFrameworkSetting(other, f.framework, 0).Has("project"))
	})
}

func TestValidateControl(t *testing.T) {
	f := newComplianceFixture()

	t.Run("should accept a predefined control with its expression", func(t *testing.T) {
		control := f.internalControl("minimum_approvals_required_2", `{"operator":">=","field":"minimum_approvals_required","value":2}`)
		assert.Empty(t, ValidateControl(control, f.requirement, nil, false))
	})

	t.Run("should reject a predefined control with another expression", func(t *testing.T) {
		control := f.internalControl("minimum_approvals_required_2", `{"operator":">=","field":"minimum_approvals_required","value":1}`)
		errs := ValidateControl(control, f.requirement, nil, false)
		assert.Equal(t, []string{"does not match the name of the predefined control."}, errs.Messages("expression"))
	})

	t.Run("should reject an expression which is not an object", func(t *testing.T) {
		control := f.internalControl("custom", `[1, 2]`)
		errs := ValidateControl(control, f.requirement, nil, false)
		assert.Equal(t, []string{expressionNotObjectMessage}, errs.Messages("expression"))
	})

	t.Run("should reject an expression with a value of the wrong type", func(t *testing.T) {
		control := f.internalControl("custom", `{"operator":"=","field":"auth_sso_enabled","value":"yes"}`)
		errs := ValidateControl(control, f.requirement, nil, false)
		assert.True(t, errs.Has("expression"))
	})

	t.Run("should reject an unknown field", func(t *testing.T) {
		control := f.internalControl("custom", `{"operator":"=","field":"coffee_machine_running","value":true}`)
		assert.True(t, ValidateControl(control, f.requirement, nil, false).Has("expression"))
	})

	t.Run("should limit the controls of a requirement", func(t *testing.T) {
		siblings := make([]models.ComplianceRequirementsControl, MaxControlsPerRequirement)
		for i := range siblings {
			siblings[i] = f.internalControl(fmt.Sprintf("control_%d", i), `{"operator":"=","field":"auth_sso_enabled","value":true}`)
			siblings[i].ID = uuid.New()
		}
		control := f.internalControl("auth_sso_enabled", `{"operator":"=","field":"auth_sso_enabled","value":true}`)
		errs := ValidateControl(control, f.requirement, siblings, false)
		assert.Equal(t, []string{"Compliance requirement cannot have more than 5 controls"}, errs.Messages(""))

		// the control itself does not count
		control.ID = siblings[0].ID
		assert.Empty(t, ValidateControl(control, f.requirement, siblings, false))
	})

	t.Run("should require a unique name among internal controls", func(t *testing.T) {
		existing := f.internalControl("auth_sso_enabled", `{"operator":"=","field":"auth_sso_enabled","value":true}`)
		existing.ID = uuid.New()
		control := f.internalControl("auth_sso_enabled", `{"operator":"=","field":"auth_sso_enabled","value":true}`)
		errs := ValidateControl(control, f.requirement, []models.ComplianceRequirementsControl{existing}, false)
		assert.Equal(t, []string{"has already been taken"}, errs.Messages("name"))
	})

	t.Run("should require url and secret token for external controls", func(t *testing.T) {
		control := f.externalControl("audit", "")
		control.SecretToken = nil
		errs := ValidateControl(control, f.requirement, nil, false)
		assert.Equal(t, []string{"can't be blank"}, errs.Messages("external_url"))
		assert.Equal(t, []string{"can't be blank"}, errs.Messages("secret_token"))
	})

	t.Run("should reject localhost urls on saas only", func(t *testing.T) {
		control := f.externalControl("audit", "http://127.0.0.1:8080/hook")
		assert.Empty(t, ValidateControl(control, f.requirement, nil, false))
		assert.Equal(t, []string{"cannot be a localhost address"}, ValidateControl(control, f.requirement, nil, true).Messages("external_url"))
	})

	t.Run("should reject urls without http scheme", func(t *testing.T) {
		control := f.externalControl("audit", "ftp://example.com")
		assert.Equal(t, []string{"must be a valid http or https url"}, ValidateControl(control, f.requirement, nil, false).Messages("external_url"))
	})

	t.Run("should require unique external control names", func(t *testing.T) {
		existing := f.externalControl("audit", "https://example.com")
		existing.ID = uuid.New()
		control := f.externalControl("audit", "https://example.com/other")
		errs := ValidateControl(control, f.requirement, []models.ComplianceRequirementsControl{existing}, false)
		assert.Equal(t, []string{"has already been taken"}, errs.Messages("external_control_name"))
	})
}

func TestParseComplianceStatus(t *testing.T) {
	t.Run("should parse the known statuses", func(t *testing.T) {
		for s, expected := range map[string]dtos.ComplianceStatus{
			"pass":    dtos.ComplianceStatusPass,
			"fail":    dtos.ComplianceStatusFail,
			"pending": dtos.ComplianceStatusPending,
		} {
			status, err := ParseComplianceStatus(s)
			require.NoError(t, err)
			assert.Equal(t, expected, status)
		}
	})

	t.Run("should reject unknown statuses", func(t *testing.T) {
		_, err := ParseComplianceStatus("maybe")
		assert.Error(t, err)
	})
}

func TestControlPolicy(t *testing.T) {
	t.Run("should pass when the fact satisfies the expression", func(t *testing.T) {
		policy, err := NewControlPolicy(context.Background(), PredefinedControls["minimum_approvals_required_2"])
		require.NoError(t, err)

		status, err := policy.Eval(context.Background(), map[string]any{"minimum_approvals_required": 3})
		require.NoError(t, err)
		assert.Equal(t, dtos.ComplianceStatusPass, status)

		status, err = policy.Eval(context.Background(), map[string]any{"minimum_approvals_required": 1})
		require.NoError(t, err)
		assert.Equal(t, dtos.ComplianceStatusFail, status)
	})

	t.Run("should fail when the fact is missing", func(t *testing.T) {
		policy, err := NewControlPolicy(context.Background(), PredefinedControls["auth_sso_enabled"])
		require.NoError(t, err)

		status, err := policy.Eval(context.Background(), map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, dtos.ComplianceStatusFail, status)
	})

	t.Run("should compare strings", func(t *testing.T) {
		policy, err := NewControlPolicy(context.Background(), PredefinedControls["project_visibility_not_public"])
		require.NoError(t, err)

		status, err := policy.Eval(context.Background(), map[string]any{"project_visibility": "private"})
		require.NoError(t, err)
		assert.Equal(t, dtos.ComplianceStatusPass, status)
	})

	t.Run("should reject unsupported operators", func(t *testing.T) {
		_, err := NewControlPolicy(context.Background(), dtos.ControlExpression{Operator: "~", Field: "auth_sso_enabled", Value: true})
		assert.Error(t, err)
	})
}
