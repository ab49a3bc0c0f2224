package templates_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin(t *testing.T) {
	t.Parallel()

	catalog, err := templates.Builtin()
	require.NoError(t, err)

	all := catalog.List("")
	require.NotEmpty(t, all)

	for _, template := range all {
		assert.NotEmpty(t, template.Actions, template.ID)
	}

	reporting := catalog.List("Reporting")
	require.NotEmpty(t, reporting)

	for _, template := range reporting {
		assert.Equal(t, "reporting", template.Category)
	}

	assert.Contains(t, catalog.Categories(), "monitoring")

	_, err = catalog.Get("missing")
	assert.ErrorIs(t, err, templates.ErrTemplateNotFound)
}

func TestLoad_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing actions",
			yaml: "templates:\n  - id: a\n    name: A\n",
			want: "at least one action",
		},
		{
			name: "invalid schedule",
			yaml: "templates:\n  - id: a\n    name: A\n    triggers:\n      - kind: schedule\n        schedule: \"99 * * * *\"\n" +
				"    actions:\n      - type: log\n        order: 1\n",
			want: "triggers[0]",
		},
		{
			name: "duplicate order",
			yaml: "templates:\n  - id: a\n    name: A\n    actions:\n      - type: log\n        order: 1\n      - type: log\n        order: 1\n",
			want: "duplicate order",
		},
		{
			name: "duplicate id",
			yaml: "templates:\n  - id: a\n    name: A\n    actions: [{type: log, order: 1}]\n" +
				"  - id: a\n    name: B\n    actions: [{type: log, order: 1}]\n",
			want: "duplicate id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := templates.Load([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInstantiate(t *testing.T) {
	t.Parallel()

	catalog, err := templates.Builtin()
	require.NoError(t, err)

	template, err := catalog.Get("daily-report")
	require.NoError(t, err)

	n := 0
	newID := func() string {
		n++

		return fmt.Sprintf("id-%d", n)
	}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	workflow := templates.Instantiate(template, "My report", newID, now)

	assert.Equal(t, "id-1", workflow.ID)
	assert.Equal(t, "My report", workflow.Name)
	assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)
	assert.Equal(t, "daily-report", workflow.TemplateID)
	assert.Equal(t, now, workflow.CreatedAt)

	require.Len(t, workflow.Triggers, 1)
	assert.Equal(t, "id-2", workflow.Triggers[0].ID)
	assert.Equal(t, "id-1", workflow.Triggers[0].WorkflowID)
	assert.Empty(t, template.Triggers[0].ID, "template is not mutated")

	require.Len(t, workflow.Actions, 2)
	assert.Equal(t, "fetch", workflow.Actions[0].ID)
	assert.Equal(t, "id-1", workflow.Actions[1].WorkflowID)

	workflow.Variables["report_url"] = "changed"
	assert.NotEqual(t, "changed", template.Variables["report_url"])
}
