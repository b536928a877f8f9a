// Package poolcachetest provides an in-memory poolcache.Delegate for
// tests.
package poolcachetest

import (
	"context"
	"sync"

	"github.com/hellmich/nscache-go/catalog"
	"github.com/hellmich/nscache-go/poolcache"
)

// Delegate is a goroutine-safe, in-memory poolcache.Delegate.
type Delegate struct {
	mu    sync.Mutex
	pools map[string]poolcache.Pool

	// Locations keys read/write locations by path; InodeLocations by
	// inode. WhereToReadCalls/WhereToReadByInodeCalls count invocations so
	// tests can assert on cache-hit behavior.
	Locations               map[string][]poolcache.Location
	InodeLocations          map[uint64][]poolcache.Location
	WhereToReadCalls        int
	WhereToReadByInodeCalls int
}

// New returns an empty Delegate.
func New() *Delegate {
	return &Delegate{
		pools:          make(map[string]poolcache.Pool),
		Locations:      make(map[string][]poolcache.Location),
		InodeLocations: make(map[uint64][]poolcache.Location),
	}
}

func (d *Delegate) GetPools(ctx context.Context, availability poolcache.Availability) ([]poolcache.Pool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []poolcache.Pool
	for _, p := range d.pools {
		if availability == poolcache.AvailabilityOnlyAvailable && p.Availability != poolcache.AvailabilityOnlyAvailable {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *Delegate) GetPool(ctx context.Context, name string) (poolcache.Pool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[name]
	if !ok {
		return poolcache.Pool{}, catalog.NewError(catalog.CodeNotFound, "getpool", name, nil)
	}
	return p, nil
}

func (d *Delegate) NewPool(ctx context.Context, p poolcache.Pool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.pools[p.Name]; exists {
		return catalog.NewError(catalog.CodeExists, "newpool", p.Name, nil)
	}
	d.pools[p.Name] = p
	return nil
}

func (d *Delegate) UpdatePool(ctx context.Context, p poolcache.Pool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.pools[p.Name]; !exists {
		return catalog.NewError(catalog.CodeNotFound, "updatepool", p.Name, nil)
	}
	d.pools[p.Name] = p
	return nil
}

func (d *Delegate) DeletePool(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.pools[name]; !exists {
		return catalog.NewError(catalog.CodeNotFound, "deletepool", name, nil)
	}
	delete(d.pools, name)
	return nil
}

func (d *Delegate) WhereToRead(ctx context.Context, path string) ([]poolcache.Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.WhereToReadCalls++
	locs, ok := d.Locations[path]
	if !ok {
		return nil, catalog.NewError(catalog.CodeNotFound, "wheretoread", path, nil)
	}
	return locs, nil
}

func (d *Delegate) WhereToReadByInode(ctx context.Context, ino uint64) ([]poolcache.Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.WhereToReadByInodeCalls++
	locs, ok := d.InodeLocations[ino]
	if !ok {
		return nil, catalog.NewError(catalog.CodeNotFound, "wheretoreadbyinode", "", nil)
	}
	return locs, nil
}

func (d *Delegate) WhereToWrite(ctx context.Context, path string) ([]poolcache.Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return []poolcache.Location{{Protocol: "xroot", URL: "root://pool1/" + path, RFN: path}}, nil
}

func (d *Delegate) CancelWrite(ctx context.Context, loc poolcache.Location) error {
	return nil
}

var _ poolcache.Delegate = (*Delegate)(nil)
