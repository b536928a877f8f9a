package catalog

import (
	"context"

	"github.com/hellmich/nscache-go/metrics"
)

// Dirent is the lightweight entry classic readDir hands back; readDirx
// returns the full ExtendedStat instead when a caller needs more than
// name and type.
type Dirent struct {
	Name string
	Ino  uint64
	Mode uint32
}

func direntOf(st *ExtendedStat) *Dirent {
	if st == nil {
		return nil
	}
	return &Dirent{Name: st.Name, Ino: st.Ino, Mode: st.Mode}
}

// OpenDir opens path for enumeration, electing this cursor as the
// listing builder, a cache replayer, or an uncached fallback reader
// depending on the current state of the directory's cache entries (see
// DirectoryCursor and openDirectory).
func (c *CachingCatalog) OpenDir(ctx context.Context, p string) (*DirectoryCursor, error) {
	c.count(metrics.OpOpenDir)
	abs := c.normalize(p)
	st, err := c.ExtendedStat(ctx, abs, true)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, newErr("opendir", p, CodeNotDir, nil)
	}
	if !checkAccess(st, c.sec, AccessRead) {
		return nil, newErr("opendir", p, CodePermissionDenied, nil)
	}
	return c.openDirectory(ctx, st.NormPath)
}

// CloseDir releases cur, closing the underlying delegate cursor unless
// the listing was served entirely from a Valid cache entry.
func (c *CachingCatalog) CloseDir(ctx context.Context, cur *DirectoryCursor) error {
	c.count(metrics.OpCloseDir)
	return c.closeDirectory(ctx, cur)
}

// ReadDirx advances cur by one entry and returns its full ExtendedStat,
// or (nil, nil) at end of directory.
func (c *CachingCatalog) ReadDirx(ctx context.Context, cur *DirectoryCursor) (*ExtendedStat, error) {
	c.count(metrics.OpReadDir)
	st, err := c.readDirectory(ctx, cur)
	if err != nil {
		return nil, err
	}
	if st != nil {
		reconcileChecksum(st)
	}
	return st, nil
}

// ReadDir advances cur by one entry, same as ReadDirx but returning the
// lighter Dirent shape most callers only need.
func (c *CachingCatalog) ReadDir(ctx context.Context, cur *DirectoryCursor) (*Dirent, error) {
	st, err := c.ReadDirx(ctx, cur)
	if err != nil {
		return nil, err
	}
	return direntOf(st), nil
}
