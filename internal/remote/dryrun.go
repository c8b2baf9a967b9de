package remote

import (
	"context"
	"sync"
)

// DryRun wraps a Store so reads pass through and writes are captured
// instead of sent. Create and Update return the item as the store would
// have produced it, so the caller proceeds normally.
type DryRun struct {
	Store

	mu     sync.Mutex
	nextID int
	writes []Write
}

// Write is a captured Create or Update.
type Write struct {
	Method string // "Create" or "Update"
	ID     int
	Patch  Document
}

// NewDryRun wraps store. Items "created" in dry-run get negative ids so
// they cannot be mistaken for real ones.
func NewDryRun(store Store) *DryRun {
	return &DryRun{Store: store, nextID: -1}
}

// Writes returns the captured writes in order.
func (d *DryRun) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Write, len(d.writes))
	copy(out, d.writes)
	return out
}

// Create captures doc and returns a synthetic item.
func (d *DryRun) Create(ctx context.Context, doc Document, project, workItemType string, bypassRules bool) (*WorkItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID--
	d.writes = append(d.writes, Write{Method: "Create", ID: id, Patch: doc})

	item := doc.ApplyTo(&WorkItem{ID: id})
	item.Fields[FieldWorkItemType] = workItemType
	return item, nil
}

// Update captures doc and returns the current item with doc applied.
func (d *DryRun) Update(ctx context.Context, doc Document, id int, project string, bypassRules bool) (*WorkItem, error) {
	d.mu.Lock()
	d.writes = append(d.writes, Write{Method: "Update", ID: id, Patch: doc})
	d.mu.Unlock()

	if id < 0 {
		return doc.ApplyTo(&WorkItem{ID: id}), nil
	}
	cur, err := d.Store.Get(ctx, id, ExpandAll)
	if err != nil {
		return nil, err
	}
	return doc.ApplyTo(cur), nil
}

// Comments returns nothing for synthetic items.
func (d *DryRun) Comments(ctx context.Context, project string, id int) ([]Comment, error) {
	if id < 0 {
		return []Comment{}, nil
	}
	return d.Store.Comments(ctx, project, id)
}
