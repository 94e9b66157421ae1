// Package outbox carries the published event contract and the publisher
// daemon that drains staged rows to a sink.
package outbox

import (
	"fmt"

	"github.com/invopop/jsonschema"

	"accounting-engine/internal/core"
)

// Payload field names below are the published contract; changing one is a
// schema version bump, not an edit.

// JournalEntryCreatedV1 is staged for every posted entry, reversals and
// corrections included.
type JournalEntryCreatedV1 struct {
	JournalEntryID           int    `json:"journalEntryId" jsonschema_description:"Identifier of the posted journal entry"`
	CompanyID                int    `json:"companyId" jsonschema_description:"Tenant the entry belongs to"`
	TotalDebit               string `json:"totalDebit,omitempty" jsonschema_description:"Sum of the entry's debit lines at two decimals"`
	TotalCredit              string `json:"totalCredit,omitempty" jsonschema_description:"Sum of the entry's credit lines at two decimals"`
	ReversalOfJournalEntryID *int   `json:"reversalOfJournalEntryId,omitempty" jsonschema_description:"Original entry id when this entry reverses another"`
}

// JournalEntryReversedV1 follows the created event for the reversal entry;
// its causation id points at that created event.
type JournalEntryReversedV1 struct {
	OriginalJournalEntryID int     `json:"originalJournalEntryId" jsonschema_description:"Entry that was reversed"`
	ReversalJournalEntryID int     `json:"reversalJournalEntryId" jsonschema_description:"Entry holding the swapped lines"`
	CompanyID              int     `json:"companyId" jsonschema_description:"Tenant the entries belong to"`
	Reason                 *string `json:"reason,omitempty" jsonschema_description:"Caller-supplied reversal reason"`
}

// InventoryRecalcRequestedV1 is staged when a backdated stock move forced a
// replay of the item's timeline.
type InventoryRecalcRequestedV1 struct {
	CompanyID      int    `json:"companyId" jsonschema_description:"Tenant whose inventory was replayed"`
	FromDate       string `json:"fromDate" jsonschema_description:"Earliest affected day, YYYY-MM-DD"`
	Reason         string `json:"reason" jsonschema_description:"What triggered the replay"`
	Source         string `json:"source" jsonschema_description:"Emitting service"`
	JournalEntryID *int   `json:"journalEntryId,omitempty" jsonschema_description:"Journal entry posted alongside the replayed moves"`
}

// SchemaKey names a payload schema in the catalog.
func SchemaKey(eventType string, version int) string {
	return fmt.Sprintf("%s.v%d", eventType, version)
}

// Catalog returns the JSON schema of every payload this engine stages, keyed
// by "<event type>.v<version>". Served on /events/schemas and printed by the
// admin schema-catalog command so consumers can generate validators.
func Catalog() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return map[string]*jsonschema.Schema{
		SchemaKey(core.EventJournalEntryCreated, 1):  reflector.Reflect(JournalEntryCreatedV1{}),
		SchemaKey(core.EventJournalEntryReversed, 1): reflector.Reflect(JournalEntryReversedV1{}),
		SchemaKey(core.EventInventoryRecalc, 1):      reflector.Reflect(InventoryRecalcRequestedV1{}),
	}
}
