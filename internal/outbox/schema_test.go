package outbox_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accounting-engine/internal/core"
	"accounting-engine/internal/outbox"
)

func TestSchemaKey(t *testing.T) {
	assert.Equal(t, "journal.entry.created.v1", outbox.SchemaKey(core.EventJournalEntryCreated, 1))
	assert.Equal(t, "inventory.recalc.requested.v3", outbox.SchemaKey(core.EventInventoryRecalc, 3))
}

func TestCatalogCoversEveryStagedEventType(t *testing.T) {
	catalog := outbox.Catalog()
	require.Len(t, catalog, 3)

	for _, eventType := range []string{
		core.EventJournalEntryCreated,
		core.EventJournalEntryReversed,
		core.EventInventoryRecalc,
	} {
		key := outbox.SchemaKey(eventType, 1)
		assert.NotNil(t, catalog[key], "catalog is missing %s", key)
	}
}

func TestCatalogSchemasAreClosed(t *testing.T) {
	catalog := outbox.Catalog()
	schema := catalog[outbox.SchemaKey(core.EventJournalEntryCreated, 1)]
	require.NotNil(t, schema)

	raw, err := json.Marshal(schema)
	require.NoError(t, err)

	// Assert on the published JSON form, not on reflector internals.
	var got struct {
		Type                 string                     `json:"type"`
		Properties           map[string]json.RawMessage `json:"properties"`
		Required             []string                   `json:"required"`
		AdditionalProperties json.RawMessage            `json:"additionalProperties"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, "object", got.Type)
	assert.Equal(t, "false", string(got.AdditionalProperties),
		"consumers rely on closed schemas to catch contract drift")

	assert.Contains(t, got.Properties, "journalEntryId")
	assert.Contains(t, got.Properties, "companyId")
	assert.Contains(t, got.Properties, "totalDebit")
	assert.Contains(t, got.Properties, "reversalOfJournalEntryId")

	assert.Contains(t, got.Required, "journalEntryId")
	assert.Contains(t, got.Required, "companyId")
	assert.NotContains(t, got.Required, "totalDebit")
	assert.NotContains(t, got.Required, "reversalOfJournalEntryId")
}
