package integration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/brushlink/internal/coordinator"
	"github.com/srg/brushlink/internal/discovery"
	"github.com/srg/brushlink/internal/sonicare"
)

var (
	ErrEntryExists   = errors.New("entry already set up")
	ErrEntryNotFound = errors.New("entry not found")
)

// Entry is one configured toothbrush.
type Entry struct {
	ID      string `json:"id" yaml:"id" mapstructure:"id"`
	Title   string `json:"title" yaml:"title" mapstructure:"title"`
	Address string `json:"address" yaml:"address" mapstructure:"address"`
}

// Validate checks the fields SetupEntry relies on.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("entry id is empty")
	}
	if strings.TrimSpace(e.Address) == "" {
		return fmt.Errorf("entry %s: address is empty", e.ID)
	}
	return nil
}

// DisplayName is the title, or the address when no title is set.
func (e Entry) DisplayName() string {
	if e.Title != "" {
		return e.Title
	}
	return e.Address
}

// EntryStatus is a point-in-time view of an entry and its coordinator.
type EntryStatus struct {
	Entry
	Phase     coordinator.Phase   `json:"phase"`
	Connected bool                `json:"connected"`
	State     *sonicare.State     `json:"state,omitempty"`
	LastSeen  *discovery.Sighting `json:"last_seen,omitempty"`
}

// Event is a coordinator event tagged with the entry it belongs to.
type Event struct {
	EntryID string `json:"entry_id"`
	coordinator.Event
}
