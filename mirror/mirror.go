// Package mirror keeps the local copy of objects and states, updated from
// change notifications.
//
// Objects and states are stored in an in-memory MemDB. Stored documents are
// never modified in place: every update inserts a new copy, so values
// returned to callers stay valid.
package mirror

import (
	"sync/atomic"

	"github.com/hashicorp/go-memdb"
	"github.com/ridge/iosocket/wire"
	"github.com/ridge/must/v2"
	"github.com/wI2L/jsondiff"
)

const (
	objectsTable = "objects"
	statesTable  = "states"
)

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		objectsTable: {
			Name: objectsTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"type": {
					Name:         "type",
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "Type"},
				},
			},
		},
		statesTable: {
			Name: statesTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
	},
}

type stateRow struct {
	ID    string
	State *wire.State
}

// Change describes the effect of an object notification on the mirror
type Change struct {
	// Changed is true if the stored document was created, replaced with a
	// different one or deleted
	Changed bool

	// Previous identifies the document that was replaced or deleted. Set only
	// when Changed is true and a document existed before.
	Previous *wire.ObjectSummary
}

// Cache is the local mirror. Safe for concurrent use.
type Cache struct {
	db *memdb.MemDB

	// objects are mirrored only after LoadObjects or SeedObject
	loaded atomic.Bool
}

// New creates an empty Cache
func New() *Cache {
	return &Cache{db: must.OK1(memdb.NewMemDB(schema))}
}

// Loaded returns true if the object mirror has been initialized
func (c *Cache) Loaded() bool {
	return c.loaded.Load()
}

// LoadObjects replaces all mirrored objects
func (c *Cache) LoadObjects(objects map[string]*wire.Object) {
	txn := c.db.Txn(true)
	defer txn.Abort()

	must.OK1(txn.DeleteAll(objectsTable, "id"))
	for id, obj := range objects {
		if obj == nil {
			continue
		}
		must.OK(txn.Insert(objectsTable, withID(obj, id)))
	}
	txn.Commit()
	c.loaded.Store(true)
}

// SeedObject initializes the mirror with a single object, dropping anything
// mirrored before
func (c *Cache) SeedObject(obj *wire.Object) {
	objects := map[string]*wire.Object{}
	if obj != nil {
		objects[obj.ID] = obj
	}
	c.LoadObjects(objects)
}

// Reset drops all mirrored objects and states
func (c *Cache) Reset() {
	txn := c.db.Txn(true)
	defer txn.Abort()

	must.OK1(txn.DeleteAll(objectsTable, "id"))
	must.OK1(txn.DeleteAll(statesTable, "id"))
	c.loaded.Store(false)
	txn.Commit()
}

// Object returns a mirrored object or nil
func (c *Cache) Object(id string) *wire.Object {
	txn := c.db.Txn(false)
	defer txn.Abort()

	return object(txn, id)
}

// Objects returns all mirrored objects
func (c *Cache) Objects() map[string]*wire.Object {
	txn := c.db.Txn(false)
	defer txn.Abort()

	res := map[string]*wire.Object{}
	it := must.OK1(txn.Get(objectsTable, "id"))
	for raw := it.Next(); raw != nil; raw = it.Next() {
		obj := raw.(*wire.Object)
		res[obj.ID] = obj
	}
	return res
}

// ObjectsByType returns the mirrored objects of the given type ordered by ID
func (c *Cache) ObjectsByType(typ string) []*wire.Object {
	txn := c.db.Txn(false)
	defer txn.Abort()

	var res []*wire.Object
	it := must.OK1(txn.Get(objectsTable, "type", typ))
	for raw := it.Next(); raw != nil; raw = it.Next() {
		res = append(res, raw.(*wire.Object))
	}
	return res
}

// ApplyObject applies an object notification: obj replaces the stored
// document as a whole, nil deletes it.
//
// A newer revision marker in obj is stamped onto the stored document before
// comparing, so a notification that differs only in revision does not count
// as a change. Does nothing before the mirror is loaded.
func (c *Cache) ApplyObject(id string, obj *wire.Object) Change {
	txn := c.db.Txn(true)
	defer txn.Abort()

	if !c.loaded.Load() {
		return Change{}
	}

	var change Change
	old := object(txn, id)
	switch {
	case obj != nil:
		if old != nil && obj.Rev != "" && obj.Rev != old.Rev {
			old = old.Clone()
			old.Rev = obj.Rev
			must.OK(txn.Insert(objectsTable, old))
		}
		if old == nil || !equal(old, withID(obj, id)) {
			must.OK(txn.Insert(objectsTable, withID(obj, id)))
			change.Changed = true
		}
	case old != nil:
		must.OK(txn.Delete(objectsTable, old))
		change.Changed = true
	}
	if change.Changed && old != nil {
		change.Previous = &wire.ObjectSummary{ID: id, Type: old.Type}
	}

	txn.Commit()
	return change
}

// State returns the last seen state or nil
func (c *Cache) State(id string) *wire.State {
	txn := c.db.Txn(false)
	defer txn.Abort()

	raw := must.OK1(txn.First(statesTable, "id", id))
	if raw == nil {
		return nil
	}
	return raw.(*stateRow).State
}

// ApplyState records a state notification: nil means the state was deleted
func (c *Cache) ApplyState(id string, state *wire.State) {
	txn := c.db.Txn(true)
	defer txn.Abort()

	if state == nil {
		must.OK1(txn.DeleteAll(statesTable, "id", id))
	} else {
		must.OK(txn.Insert(statesTable, &stateRow{ID: id, State: state.Clone()}))
	}
	txn.Commit()
}

func object(txn *memdb.Txn, id string) *wire.Object {
	raw := must.OK1(txn.First(objectsTable, "id", id))
	if raw == nil {
		return nil
	}
	return raw.(*wire.Object)
}

// withID returns a copy of the object keyed by id
func withID(obj *wire.Object, id string) *wire.Object {
	res := obj.Clone()
	res.ID = id
	return res
}

func equal(a, b *wire.Object) bool {
	patch, err := jsondiff.Compare(a, b)
	return err == nil && len(patch) == 0
}
