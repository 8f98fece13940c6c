package storage

import (
	"github.com/google/uuid"

	"github.com/tensorgraph/engine/pkg/collections"
	"github.com/tensorgraph/engine/pkg/errors"
)

// freeAllScratch pools the scratch id slice FreeAll walks, so repeated
// scoped-record teardowns (the common case around a multi-step op)
// don't allocate a fresh slice every time.
var freeAllScratch = collections.NewSlicePool[uuid.UUID](64)

// bucket is an equivalence class of storages sharing one allocated
// buffer. root points at the storage that owns the buffer;
// members is the live set of UUIDs aliasing it.
type bucket struct {
	root    *Storage
	members map[uuid.UUID]bool
}

// entry is the registry's canonical uuid -> (storage, bucket) mapping,
// grounded on the indexed-object-store idiom: a compact uuid-keyed index
// next to the data it describes.
type entry struct {
	storage *Storage
	bucket  *bucket
}

// Record is a scoped allocation log: every storage registered while the
// record is active is appended to its member set, so a caller can free
// every scratch allocation made during a multi-step operation in one
// call even if the operation fails partway through.
type Record struct {
	members map[uuid.UUID]bool
	active  bool
}

// Registry is the process-wide index mapping every live storage to its
// bucket, plus the set of currently active allocation records.
type Registry struct {
	entries map[uuid.UUID]*entry
	records []*Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uuid.UUID]*entry)}
}

// Count returns the number of live registry entries. It returns to its
// prior value once every register is matched by a deregister.
func (r *Registry) Count() int {
	return len(r.entries)
}

// Register adds t to the registry. If parent is nil, t becomes the root
// of a brand-new bucket; otherwise t joins parent's bucket as an alias.
// Re-registering an already-present uuid is idempotent. In both cases t
// is appended to every currently active record.
func (r *Registry) Register(t *Storage, parent *Storage) error {
	if _, ok := r.entries[t.UUID]; ok {
		return nil
	}

	var b *bucket
	if parent == nil {
		b = &bucket{root: t, members: map[uuid.UUID]bool{t.UUID: true}}
	} else {
		pe, ok := r.entries[parent.UUID]
		if !ok {
			return errors.Wrap(errors.CodeParentNotRegistered, "parent storage not found in registry", nil)
		}
		b = pe.bucket
		b.members[t.UUID] = true
	}

	r.entries[t.UUID] = &entry{storage: t, bucket: b}

	for _, rec := range r.records {
		if rec.active {
			rec.members[t.UUID] = true
		}
	}
	return nil
}

// Deregister removes t from its bucket, from every record that still
// references it, and from the global map. It does not free the bucket
// even if doing so leaves it empty — the caller (Storage.Free) decides
// whether that's wanted.
func (r *Registry) Deregister(t *Storage) error {
	e, ok := r.entries[t.UUID]
	if !ok {
		return errors.Wrap(errors.CodeParentNotRegistered, "storage not registered", nil)
	}
	delete(e.bucket.members, t.UUID)
	delete(r.entries, t.UUID)
	for _, rec := range r.records {
		delete(rec.members, t.UUID)
	}
	return nil
}

// DeregisterAndDeleteBucket removes t and, only if its bucket is now
// empty, discards the bucket. Fails BucketNotEmpty otherwise.
func (r *Registry) DeregisterAndDeleteBucket(t *Storage) error {
	e, ok := r.entries[t.UUID]
	if !ok {
		return errors.Wrap(errors.CodeParentNotRegistered, "storage not registered", nil)
	}
	b := e.bucket
	if err := r.Deregister(t); err != nil {
		return err
	}
	if len(b.members) != 0 {
		return errors.Wrap(errors.CodeBucketNotEmpty, "bucket still has live aliases", nil)
	}
	return nil
}

// GetRoot returns the storage that owns t's bucket's buffer.
func (r *Registry) GetRoot(t *Storage) (*Storage, error) {
	e, ok := r.entries[t.UUID]
	if !ok {
		return nil, errors.Wrap(errors.CodeParentNotRegistered, "storage not registered", nil)
	}
	return e.bucket.root, nil
}

// BucketSize returns the number of live aliases sharing t's buffer.
func (r *Registry) BucketSize(t *Storage) (int, error) {
	e, ok := r.entries[t.UUID]
	if !ok {
		return 0, errors.Wrap(errors.CodeParentNotRegistered, "storage not registered", nil)
	}
	return len(e.bucket.members), nil
}

// IsRoot reports whether t is the root of its bucket.
func (r *Registry) IsRoot(t *Storage) (bool, error) {
	e, ok := r.entries[t.UUID]
	if !ok {
		return false, errors.Wrap(errors.CodeParentNotRegistered, "storage not registered", nil)
	}
	return e.bucket.root.UUID == t.UUID, nil
}

// StartRecord begins a new active allocation scope. Every storage
// registered while any active record exists is appended to that
// record's member set — including this one, and every other record
// that is simultaneously active (nested scopes all see the allocation).
func (r *Registry) StartRecord() *Record {
	rec := &Record{members: make(map[uuid.UUID]bool), active: true}
	r.records = append(r.records, rec)
	return rec
}

// StopRecord deactivates rec without clearing its snapshot; subsequent
// registrations no longer add to it, but FreeAll can still be called.
func (r *Registry) StopRecord(rec *Record) {
	rec.active = false
}

// FreeAll frees every storage captured by rec, continuing past errors
// so that a partial failure never leaks scratch allocations; it returns
// the first error encountered, if any.
func (r *Registry) FreeAll(rec *Record) error {
	ids := freeAllScratch.Get()
	defer freeAllScratch.Put(ids)
	for id := range rec.members {
		*ids = append(*ids, id)
	}

	var firstErr error
	for _, id := range *ids {
		e, ok := r.entries[id]
		if !ok {
			continue
		}
		if err := Free(r, e.storage); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
