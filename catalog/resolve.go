package catalog

import (
	"context"
	"path"
	"strings"

	"github.com/hellmich/nscache-go/cachekey"
	"github.com/hellmich/nscache-go/cachekv"
	"github.com/hellmich/nscache-go/codec"
	"github.com/hellmich/nscache-go/metrics"
)

// normalizePath resolves p against cwd into an absolute, cleaned path.
// It performs no I/O.
func normalizePath(cwd, p string) string {
	if p == "" {
		p = "."
	}
	if !strings.HasPrefix(p, "/") {
		p = joinPath(cwd, p)
	}
	clean := path.Clean(p)
	if clean == "." {
		return "/"
	}
	return clean
}

// parentOf returns the parent directory of an absolute, normalized path.
// parentOf("/") == "/".
func parentOf(p string) string {
	if p == "/" {
		return "/"
	}
	d := path.Dir(p)
	if d == "." {
		return "/"
	}
	return d
}

func splitComponents(abs string) []string {
	trimmed := strings.Trim(abs, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// ExtendedStat resolves path to its metadata, serving from the cache
// where the configured ResolutionMode allows, and falling through to the
// delegate on any miss. followSymlink controls whether the final
// component, if it is a symlink, is itself returned or resolved through.
func (c *CachingCatalog) ExtendedStat(ctx context.Context, p string, followSymlink bool) (ExtendedStat, error) {
	c.count(metrics.OpExtendedStat)
	abs := c.normalize(p)
	var (
		st  ExtendedStat
		err error
	)
	if c.mode == ResolutionFlat {
		st, err = c.resolveFlat(ctx, abs, followSymlink)
	} else {
		st, err = c.resolvePOSIX(ctx, abs, followSymlink)
	}
	if err != nil {
		return ExtendedStat{}, err
	}
	reconcileChecksum(&st)
	return st, nil
}

// rfnStatIdentifier namespaces ExtendedStatByRFN cache entries away from
// path-keyed STAT entries; no absolute path may contain a NUL byte, so
// this prefix can never collide with a real path.
func rfnStatIdentifier(rfn string) string {
	return "\x00rfn:" + rfn
}

// ExtendedStatByRFN resolves metadata by replica file name instead of
// path, read-through cached under its own namespace of the STAT kind.
func (c *CachingCatalog) ExtendedStatByRFN(ctx context.Context, rfn string) (ExtendedStat, error) {
	c.count(metrics.OpExtendedStatByRFN)
	key := cachekey.Key(c.scheme, cachekey.KindStat, rfnStatIdentifier(rfn))
	if raw, ok, err := cachekv.SafeGet(ctx, c.cache, key); err != nil {
		return ExtendedStat{}, newErr("extendedStatByRFN", rfn, CodeCacheUnavailable, err)
	} else if ok {
		if st, derr := unmarshalStat(raw); derr == nil {
			reconcileChecksum(&st)
			return st, nil
		}
	}
	st, err := c.delegate.ExtendedStatByRFN(ctx, rfn)
	if err != nil {
		return ExtendedStat{}, wrapDelegateErr("extendedStatByRFN", rfn, err)
	}
	if encoded, encErr := marshalStat(st); encErr == nil {
		_ = cachekv.SafeSet(ctx, c.cache, key, encoded, c.ttl())
	}
	reconcileChecksum(&st)
	return st, nil
}

// fetchStat is the single-component cache-or-delegate stat lookup used
// by the POSIX walker: it never follows symlinks itself (the walker
// does that), so it always asks the delegate with followSymlink=false.
func (c *CachingCatalog) fetchStat(ctx context.Context, abs string) (ExtendedStat, error) {
	key := cachekey.Key(c.scheme, cachekey.KindStat, abs)
	if raw, ok, err := cachekv.SafeGet(ctx, c.cache, key); err != nil {
		return ExtendedStat{}, newErr("stat", abs, CodeCacheUnavailable, err)
	} else if ok {
		if st, derr := unmarshalStat(raw); derr == nil {
			return st, nil
		}
	}
	st, err := c.delegate.ExtendedStat(ctx, abs, false)
	if err != nil {
		return ExtendedStat{}, wrapDelegateErr("stat", abs, err)
	}
	if encoded, encErr := marshalStat(st); encErr == nil {
		_ = cachekv.SafeSet(ctx, c.cache, key, encoded, c.ttl())
	}
	return st, nil
}

// followedStatIdentifier namespaces flat-mode stats taken with
// followSymlink=true away from the plain form: when abs names a symlink
// the two return different entities, so they must never share a cache
// entry. The plain key always holds the entry's own stat, which is the
// form the POSIX walker and the directory cursor populate; both keys
// are wiped together by invalidateStat.
func followedStatIdentifier(abs string) string {
	return "\x00follow:" + abs
}

// resolveFlat trusts the delegate to resolve the whole path (including
// any symlinks) in a single call; the cache is consulted and populated
// once, keyed on the full normalized path, never per-component.
func (c *CachingCatalog) resolveFlat(ctx context.Context, abs string, followSymlink bool) (ExtendedStat, error) {
	identifier := abs
	if followSymlink {
		identifier = followedStatIdentifier(abs)
	}
	key := cachekey.Key(c.scheme, cachekey.KindStat, identifier)
	if raw, ok, err := cachekv.SafeGet(ctx, c.cache, key); err != nil {
		return ExtendedStat{}, newErr("stat", abs, CodeCacheUnavailable, err)
	} else if ok {
		if st, derr := unmarshalStat(raw); derr == nil {
			st.NormPath = abs
			return st, nil
		}
	}
	st, err := c.delegate.ExtendedStat(ctx, abs, followSymlink)
	if err != nil {
		return ExtendedStat{}, wrapDelegateErr("stat", abs, err)
	}
	if encoded, encErr := marshalStat(st); encErr == nil {
		_ = cachekv.SafeSet(ctx, c.cache, key, encoded, c.ttl())
	}
	st.NormPath = abs
	return st, nil
}

// resolveSymlinkTarget reads the target of the symlink at abs, cached
// under the SYML kind.
func (c *CachingCatalog) resolveSymlinkTarget(ctx context.Context, abs string) (string, error) {
	key := cachekey.Key(c.scheme, cachekey.KindSymlink, abs)
	if raw, ok, err := cachekv.SafeGet(ctx, c.cache, key); err != nil {
		return "", newErr("readlink", abs, CodeCacheUnavailable, err)
	} else if ok {
		if target, derr := codec.UnmarshalString(raw); derr == nil {
			return target, nil
		}
	}
	target, err := c.delegate.ReadLink(ctx, abs)
	if err != nil {
		return "", wrapDelegateErr("readlink", abs, err)
	}
	if encoded, encErr := codec.MarshalString(target); encErr == nil {
		_ = cachekv.SafeSet(ctx, c.cache, key, encoded, c.ttl())
	}
	return target, nil
}

// resolvePOSIX walks abs component by component from root, checking
// execute permission on every intermediate directory and following
// symlinks (bounded by c.symLink hops) wherever they are encountered,
// mirroring a POSIX path walk. The final ExtendedStat carries the
// canonical path it was reached by in NormPath.
func (c *CachingCatalog) resolvePOSIX(ctx context.Context, abs string, followSymlink bool) (ExtendedStat, error) {
	queue := splitComponents(abs)
	built := ""
	hops := 0

	fetch := func(candidate string) (ExtendedStat, error) {
		return c.fetchStat(ctx, candidate)
	}

	var final ExtendedStat
	haveFinal := false

	for len(queue) > 0 {
		comp := queue[0]
		queue = queue[1:]
		if comp == "" {
			continue
		}
		base := built
		if base == "" {
			base = "/"
		}
		candidate := joinPath(base, comp)

		st, err := fetch(candidate)
		if err != nil {
			return ExtendedStat{}, err
		}

		isLast := len(queue) == 0

		if st.IsSymlink() && (!isLast || followSymlink) {
			hops++
			if hops > c.symLink {
				return ExtendedStat{}, newLoopErr("stat", abs, c.symLink)
			}
			target, terr := c.resolveSymlinkTarget(ctx, candidate)
			if terr != nil {
				return ExtendedStat{}, terr
			}
			if strings.HasPrefix(target, "/") {
				queue = append(splitComponents(target), queue...)
				built = ""
			} else {
				queue = append(splitComponents(target), queue...)
				// built stays at the symlink's parent: candidate is not consumed.
			}
			continue
		}

		if !isLast {
			if !st.IsDir() {
				return ExtendedStat{}, newErr("stat", abs, CodeNotDir, nil)
			}
			if !checkAccess(st, c.sec, AccessExecute) {
				return ExtendedStat{}, newErr("stat", abs, CodePermissionDenied, nil)
			}
		}

		built = candidate
		final = st
		haveFinal = true
	}

	if !haveFinal {
		// abs == "/": resolve the root entry itself.
		st, err := fetch("/")
		if err != nil {
			return ExtendedStat{}, err
		}
		final = st
		built = "/"
	}

	final.NormPath = built
	return final, nil
}

// Access reports whether the security context may access path under
// mode; a permission denial is reported as (false, nil), any other
// failure is propagated.
func (c *CachingCatalog) Access(ctx context.Context, p string, mode AccessMode) (bool, error) {
	c.count(metrics.OpAccess)
	st, err := c.ExtendedStat(ctx, p, true)
	if err != nil {
		if CodeOf(err) == CodePermissionDenied {
			return false, nil
		}
		return false, err
	}
	return checkAccess(st, c.sec, mode), nil
}

// AccessReplica is pure delegation; replica access checks are never
// cached. A permission denial is swallowed into (false, nil), anything
// else is propagated.
func (c *CachingCatalog) AccessReplica(ctx context.Context, rfn string, mode AccessMode) (bool, error) {
	c.count(metrics.OpAccessReplica)
	ok, err := c.delegate.AccessReplica(ctx, rfn, mode)
	if err != nil {
		wrapped := wrapDelegateErr("accessReplica", rfn, err)
		if CodeOf(wrapped) == CodePermissionDenied {
			return false, nil
		}
		return false, wrapped
	}
	return ok, nil
}

// ChangeDir resolves p (following symlinks) and, if it is a directory
// the caller may execute into, updates the process-local working
// directory to its canonical absolute form.
func (c *CachingCatalog) ChangeDir(ctx context.Context, p string) error {
	c.count(metrics.OpChangeDir)
	st, err := c.ExtendedStat(ctx, p, true)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return newErr("changeDir", p, CodeNotDir, nil)
	}
	if !checkAccess(st, c.sec, AccessExecute) {
		return newErr("changeDir", p, CodePermissionDenied, nil)
	}
	if err := c.delegate.ChangeDir(ctx, st.NormPath); err != nil {
		return wrapDelegateErr("changeDir", p, err)
	}
	c.cwd = st.NormPath
	return nil
}

// WorkingDir returns the process-local current directory, in its
// canonical absolute form.
func (c *CachingCatalog) WorkingDir() string {
	return c.cwd
}

// Umask is pure delegation; no cache keys are touched.
func (c *CachingCatalog) Umask(ctx context.Context, mask uint32) uint32 {
	c.count(metrics.OpUmask)
	return c.delegate.Umask(ctx, mask)
}
