// Package store persists the consent ledger. Entries are append-only: no
// implementation offers update or delete.
package store

import (
	"slices"

	"consentvault/internal/consent/models"
)

// newestFirst orders by created_at descending, then id descending.
func newestFirst(a, b models.ConsentRecord) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}

func sortNewestFirst(records []models.ConsentRecord) {
	slices.SortFunc(records, newestFirst)
}
