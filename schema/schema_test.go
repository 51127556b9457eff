package schema_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/knowledge-vault/schema"
)

func TestValidateDocumentSet(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		valid bool
	}{
		{"empty set", `{"documents": []}`, true},
		{"ordered set", `{"documents": ["fact one", "fact two"]}`, true},
		{"missing documents", `{}`, false},
		{"duplicate entries", `{"documents": ["a", "a"]}`, false},
		{"empty entry", `{"documents": [""]}`, false},
		{"wrong item type", `{"documents": [1]}`, false},
		{"not json", `{"documents": [`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := schema.ValidateDocumentSet([]byte(tc.data))
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, schema.ErrInvalid)
		})
	}
}

func TestValidateSnapshot(t *testing.T) {
	good := `{"id": "snap_1", "created_at": "2026-10-15T10:00:00.123456789Z", "description": "v1", "documents": ["fact one"]}`
	assert.NoError(t, schema.ValidateSnapshot([]byte(good)))

	bad := []string{
		`{"id": "snap_1", "created_at": "yesterday", "description": "v1", "documents": []}`,
		`{"id": "", "created_at": "2026-10-15T10:00:00Z", "description": "v1", "documents": []}`,
		`{"id": "snap_1", "created_at": "2026-10-15T10:00:00Z", "documents": []}`,
		`{"id": "snap_1", "created_at": "2026-10-15T10:00:00Z", "description": "", "documents": []}`,
	}
	for _, data := range bad {
		assert.ErrorIs(t, schema.ValidateSnapshot([]byte(data)), schema.ErrInvalid, data)
	}
}

func TestValidateNamespace(t *testing.T) {
	assert.NoError(t, schema.ValidateNamespace([]byte(`{"name": "bot1", "created_at": "2026-10-15T10:00:00Z"}`)))
	assert.Error(t, schema.ValidateNamespace([]byte(`{"name": "bot-1", "created_at": "2026-10-15T10:00:00Z"}`)))
}

func TestValidationErrorListsProblems(t *testing.T) {
	err := schema.ValidateSnapshot([]byte(`{"documents": [1]}`))
	var ve *schema.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "snapshot", ve.Record)
	assert.GreaterOrEqual(t, len(ve.Problems), 2)
}

func TestValidateBadSchema(t *testing.T) {
	err := schema.Validate(`{"type": 12}`, "thing", []byte(`{}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, schema.ErrInvalid)
}

func TestValidateBundle(t *testing.T) {
	good := `{"format": "kvault.snapshot/v1", "namespace": "bot1", "snapshot_id": "snap_1",
		"created_at": "2026-10-15T10:00:00Z", "description": "v1", "documents": ["a", "b"]}`
	assert.NoError(t, schema.ValidateBundle([]byte(good)))

	noFormat := `{"namespace": "bot1", "snapshot_id": "snap_1",
		"created_at": "2026-10-15T10:00:00Z", "description": "v1", "documents": []}`
	assert.ErrorIs(t, schema.ValidateBundle([]byte(noFormat)), schema.ErrInvalid)
}
