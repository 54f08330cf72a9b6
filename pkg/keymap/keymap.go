package keymap

import (
	"github.com/authzed/replicant/pkg/replicant"
	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
)

// Keymap maps source identities to the local records they were loaded as.
// It belongs to a single load session and is not safe for concurrent use.
type Keymap struct {
	records map[replicant.Identity]*store.Record
}

// New returns an empty Keymap
func New() *Keymap {
	return &Keymap{records: make(map[replicant.Identity]*store.Record)}
}

// Register records that (typ, sourceID) was loaded as rec. The entry is also
// registered under every ancestor of typ so that references typed at a
// supertype resolve.
func (k *Keymap) Register(typ *schema.Type, sourceID interface{}, rec *store.Record) {
	for _, name := range typ.Lineage() {
		k.records[replicant.NewIdentity(name, sourceID)] = rec
	}
}

// Lookup returns the local record for (typ, sourceID).
func (k *Keymap) Lookup(typ string, sourceID interface{}) (*store.Record, bool) {
	rec, ok := k.records[replicant.NewIdentity(typ, sourceID)]
	return rec, ok
}

// LocalID returns the local primary key for (typ, sourceID).
func (k *Keymap) LocalID(typ string, sourceID interface{}) (interface{}, bool) {
	rec, ok := k.Lookup(typ, sourceID)
	if !ok {
		return nil, false
	}
	return rec.ID, true
}

// Len is the number of entries, ancestor registrations included.
func (k *Keymap) Len() int {
	return len(k.records)
}

// Clone returns an independent copy of k
func (k *Keymap) Clone() *Keymap {
	out := &Keymap{records: make(map[replicant.Identity]*store.Record, len(k.records))}
	for id, rec := range k.records {
		out.records[id] = rec
	}
	return out
}
