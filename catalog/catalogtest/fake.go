// Package catalogtest provides an in-memory catalog.Delegate for tests:
// a small inode tree supporting the full Delegate contract, including
// symlink resolution, replicas, comments, and directory enumeration, so
// the caching layer's tests can exercise it without a real backing
// store.
package catalogtest

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hellmich/nscache-go/catalog"
)

const maxInternalHops = 64

type node struct {
	stat     catalog.ExtendedStat
	children map[string]*node // nil for non-directories
	target   string           // symlink target, only set when this node is a symlink
	comment  string
	replicas map[string]catalog.Replica // keyed by RFN
}

// Delegate is an in-memory catalog.Delegate implementation.
type Delegate struct {
	mu      sync.Mutex
	root    *node
	inodes  map[uint64]string // inode -> canonical path, maintained on every mutation
	nextIno uint64
	umask   uint32
}

// New returns a Delegate containing only the root directory "/", owned
// by uid/gid 0 with mode 0755.
func New() *Delegate {
	root := &node{
		stat: catalog.ExtendedStat{
			Ino:   1,
			Name:  "/",
			Mode:  catalog.ModeDir | 0755,
			Nlink: 2,
			MTime: time.Unix(0, 0),
			CTime: time.Unix(0, 0),
			ATime: time.Unix(0, 0),
		},
		children: make(map[string]*node),
	}
	return &Delegate{root: root, inodes: map[uint64]string{1: "/"}, nextIno: 2}
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func errNotFound(op, p string) error     { return catalog.NewError(catalog.CodeNotFound, op, p, nil) }
func errExists(op, p string) error       { return catalog.NewError(catalog.CodeExists, op, p, nil) }
func errNotDir(op, p string) error       { return catalog.NewError(catalog.CodeNotDir, op, p, nil) }
func errIsDir(op, p string) error        { return catalog.NewError(catalog.CodeIsDir, op, p, nil) }
func errNotEmpty(op, p string) error     { return catalog.NewError(catalog.CodeNotEmpty, op, p, nil) }
func errLoopExceeded(op, p string) error { return catalog.NewError(catalog.CodeLoopExceeded, op, p, nil) }
func errInvalid(op, p string) error      { return catalog.NewError(catalog.CodeInvalid, op, p, nil) }

// lookup resolves an absolute path to its node, optionally following a
// symlink at the final component. Intermediate symlinks are always
// followed. This is independent of the caching layer's own POSIX walk,
// which calls ExtendedStat one path at a time with followSymlink=false
// and does its own hop counting in front of this Delegate.
func (d *Delegate) lookup(abs string, followFinal bool) (*node, error) {
	cur := d.root
	comps := splitPath(abs)
	hops := 0
	for i := 0; i < len(comps); i++ {
		comp := comps[i]
		if cur.children == nil {
			return nil, errNotDir("stat", abs)
		}
		child, ok := cur.children[comp]
		if !ok {
			return nil, errNotFound("stat", abs)
		}
		isLast := i == len(comps)-1
		if child.target != "" && (!isLast || followFinal) {
			hops++
			if hops > maxInternalHops {
				return nil, errLoopExceeded("stat", abs)
			}
			target := child.target
			rest := splitPath(target)
			if strings.HasPrefix(target, "/") {
				cur = d.root
			}
			comps = append(append([]string{}, rest...), comps[i+1:]...)
			i = -1
			continue
		}
		cur = child
	}
	return cur, nil
}

func (d *Delegate) parentOf(abs string) (*node, string, error) {
	p := path.Dir(abs)
	base := path.Base(abs)
	n, err := d.lookup(p, true)
	if err != nil {
		return nil, "", err
	}
	if n.children == nil {
		return nil, "", errNotDir("stat", abs)
	}
	return n, base, nil
}

func (d *Delegate) assignIno() uint64 {
	ino := d.nextIno
	d.nextIno++
	return ino
}

// ExtendedStat returns the stat of the node at absPath.
func (d *Delegate) ExtendedStat(ctx context.Context, absPath string, followSymlink bool) (catalog.ExtendedStat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if absPath == "/" {
		return d.root.stat.Clone(), nil
	}
	n, err := d.lookup(absPath, followSymlink)
	if err != nil {
		return catalog.ExtendedStat{}, err
	}
	return n.stat.Clone(), nil
}

// ExtendedStatByRFN scans every replica for a matching RFN.
func (d *Delegate) ExtendedStatByRFN(ctx context.Context, rfn string) (catalog.ExtendedStat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var found *catalog.ExtendedStat
	d.walk(d.root, func(n *node) {
		if found != nil {
			return
		}
		if _, ok := n.replicas[rfn]; ok {
			st := n.stat.Clone()
			found = &st
		}
	})
	if found == nil {
		return catalog.ExtendedStat{}, errNotFound("extendedstatbyrfn", rfn)
	}
	return *found, nil
}

func (d *Delegate) walk(n *node, fn func(*node)) {
	fn(n)
	for _, c := range n.children {
		d.walk(c, fn)
	}
}

func (d *Delegate) PathFromInode(ctx context.Context, ino uint64) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.inodes[ino]
	if !ok {
		return "", errNotFound("pathfrominode", "")
	}
	return p, nil
}

func (d *Delegate) AddReplica(ctx context.Context, r catalog.Replica) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.inodes[r.FileID]
	if !ok {
		return errNotFound("addreplica", r.RFN)
	}
	n, err := d.lookup(p, false)
	if err != nil {
		return err
	}
	if n.replicas == nil {
		n.replicas = make(map[string]catalog.Replica)
	}
	n.replicas[r.RFN] = r
	return nil
}

func (d *Delegate) DeleteReplica(ctx context.Context, r catalog.Replica) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.inodes[r.FileID]
	if !ok {
		return errNotFound("deletereplica", r.RFN)
	}
	n, err := d.lookup(p, false)
	if err != nil {
		return err
	}
	delete(n.replicas, r.RFN)
	return nil
}

func (d *Delegate) UpdateReplica(ctx context.Context, r catalog.Replica) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.inodes[r.FileID]
	if !ok {
		return errNotFound("updatereplica", r.RFN)
	}
	n, err := d.lookup(p, false)
	if err != nil {
		return err
	}
	if n.replicas == nil {
		n.replicas = make(map[string]catalog.Replica)
	}
	n.replicas[r.RFN] = r
	return nil
}

func (d *Delegate) GetReplicas(ctx context.Context, absPath string) ([]catalog.Replica, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookup(absPath, true)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Replica, 0, len(n.replicas))
	for _, r := range n.replicas {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RFN < out[j].RFN })
	return out, nil
}

func (d *Delegate) GetReplicaByRFN(ctx context.Context, rfn string) (catalog.Replica, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var found *catalog.Replica
	d.walk(d.root, func(n *node) {
		if found != nil {
			return
		}
		if r, ok := n.replicas[rfn]; ok {
			found = &r
		}
	})
	if found == nil {
		return catalog.Replica{}, errNotFound("getreplicabyrfn", rfn)
	}
	return *found, nil
}

func (d *Delegate) AccessReplica(ctx context.Context, rfn string, mode catalog.AccessMode) (bool, error) {
	_, err := d.GetReplicaByRFN(ctx, rfn)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *Delegate) Symlink(ctx context.Context, target, linkPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent, base, err := d.parentOf(linkPath)
	if err != nil {
		return err
	}
	if _, exists := parent.children[base]; exists {
		return errExists("symlink", linkPath)
	}
	ino := d.assignIno()
	n := &node{
		stat: catalog.ExtendedStat{
			Ino: ino, ParentIno: parent.stat.Ino, Name: base,
			Mode: catalog.ModeSymlink | 0777, Nlink: 1,
			MTime: time.Unix(0, 0), CTime: time.Unix(0, 0), ATime: time.Unix(0, 0),
		},
		target: target,
	}
	parent.children[base] = n
	d.inodes[ino] = linkPath
	return nil
}

func (d *Delegate) ReadLink(ctx context.Context, absPath string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookup(absPath, false)
	if err != nil {
		return "", err
	}
	if n.target == "" {
		return "", errInvalid("readlink", absPath)
	}
	return n.target, nil
}

func (d *Delegate) Unlink(ctx context.Context, absPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent, base, err := d.parentOf(absPath)
	if err != nil {
		return err
	}
	n, ok := parent.children[base]
	if !ok {
		return errNotFound("unlink", absPath)
	}
	if n.children != nil {
		return errIsDir("unlink", absPath)
	}
	delete(parent.children, base)
	delete(d.inodes, n.stat.Ino)
	return nil
}

func (d *Delegate) Create(ctx context.Context, absPath string, mode uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent, base, err := d.parentOf(absPath)
	if err != nil {
		return err
	}
	ino := d.assignIno()
	parent.children[base] = &node{
		stat: catalog.ExtendedStat{
			Ino: ino, ParentIno: parent.stat.Ino, Name: base,
			Mode: catalog.ModeRegular | (mode &^ catalog.ModeTypeMask), Nlink: 1,
			MTime: time.Unix(0, 0), CTime: time.Unix(0, 0), ATime: time.Unix(0, 0),
		},
	}
	d.inodes[ino] = absPath
	return nil
}

func (d *Delegate) MakeDir(ctx context.Context, absPath string, mode uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent, base, err := d.parentOf(absPath)
	if err != nil {
		return err
	}
	if _, exists := parent.children[base]; exists {
		return errExists("makedir", absPath)
	}
	ino := d.assignIno()
	parent.children[base] = &node{
		stat: catalog.ExtendedStat{
			Ino: ino, ParentIno: parent.stat.Ino, Name: base,
			Mode: catalog.ModeDir | (mode &^ catalog.ModeTypeMask), Nlink: 2,
			MTime: time.Unix(0, 0), CTime: time.Unix(0, 0), ATime: time.Unix(0, 0),
		},
		children: make(map[string]*node),
	}
	d.inodes[ino] = absPath
	return nil
}

func (d *Delegate) RemoveDir(ctx context.Context, absPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent, base, err := d.parentOf(absPath)
	if err != nil {
		return err
	}
	n, ok := parent.children[base]
	if !ok {
		return errNotFound("removedir", absPath)
	}
	if n.children == nil {
		return errNotDir("removedir", absPath)
	}
	if len(n.children) > 0 {
		return errNotEmpty("removedir", absPath)
	}
	delete(parent.children, base)
	delete(d.inodes, n.stat.Ino)
	return nil
}

func (d *Delegate) Rename(ctx context.Context, oldPath, newPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	oldParent, oldBase, err := d.parentOf(oldPath)
	if err != nil {
		return err
	}
	n, ok := oldParent.children[oldBase]
	if !ok {
		return errNotFound("rename", oldPath)
	}
	newParent, newBase, err := d.parentOf(newPath)
	if err != nil {
		return err
	}
	delete(oldParent.children, oldBase)
	n.stat.Name = newBase
	n.stat.ParentIno = newParent.stat.Ino
	newParent.children[newBase] = n
	d.inodes[n.stat.Ino] = newPath
	d.reindexSubtree(n, newPath)
	return nil
}

// reindexSubtree updates d.inodes for every descendant of n after n (a
// directory) was moved to the path base, since each descendant's canonical
// path changes with it.
func (d *Delegate) reindexSubtree(n *node, base string) {
	for name, c := range n.children {
		p := base + "/" + name
		d.inodes[c.stat.Ino] = p
		d.reindexSubtree(c, p)
	}
}

func (d *Delegate) SetMode(ctx context.Context, absPath string, mode uint32) error {
	return d.mutate(absPath, func(n *node) { n.stat.Mode = mode })
}

func (d *Delegate) SetOwner(ctx context.Context, absPath string, uid, gid uint32) error {
	return d.mutate(absPath, func(n *node) { n.stat.UID = uid; n.stat.GID = gid })
}

func (d *Delegate) SetSize(ctx context.Context, absPath string, size int64) error {
	return d.mutate(absPath, func(n *node) { n.stat.Size = size })
}

func (d *Delegate) SetChecksum(ctx context.Context, absPath string, csumType, csumValue string) error {
	return d.mutate(absPath, func(n *node) { n.stat.CSumType = csumType; n.stat.CSumValue = csumValue })
}

func (d *Delegate) SetACL(ctx context.Context, absPath string, acl []catalog.ACLEntry) error {
	return d.mutate(absPath, func(n *node) { n.stat.ACL = acl })
}

func (d *Delegate) Utime(ctx context.Context, absPath string, atime, mtime time.Time) error {
	return d.mutate(absPath, func(n *node) { n.stat.ATime = atime; n.stat.MTime = mtime })
}

func (d *Delegate) SetGUID(ctx context.Context, absPath string, guid string) error {
	return d.mutate(absPath, func(n *node) { n.stat.GUID = guid })
}

func (d *Delegate) UpdateExtendedAttributes(ctx context.Context, absPath string, xattr map[string]string) error {
	return d.mutate(absPath, func(n *node) {
		if n.stat.Xattr == nil {
			n.stat.Xattr = make(map[string]string, len(xattr))
		}
		for k, v := range xattr {
			n.stat.Xattr[k] = v
		}
	})
}

func (d *Delegate) mutate(absPath string, fn func(*node)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookup(absPath, false)
	if err != nil {
		return err
	}
	fn(n)
	return nil
}

func (d *Delegate) GetComment(ctx context.Context, absPath string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookup(absPath, true)
	if err != nil {
		return "", err
	}
	return n.comment, nil
}

func (d *Delegate) SetComment(ctx context.Context, absPath string, comment string) error {
	return d.mutate(absPath, func(n *node) { n.comment = comment })
}

func (d *Delegate) Umask(ctx context.Context, mask uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.umask
	d.umask = mask
	return prev
}

func (d *Delegate) ChangeDir(ctx context.Context, absPath string) error {
	_, err := d.ExtendedStat(ctx, absPath, true)
	return err
}

// dirHandle is the DelegateDirHandle this fake hands out: a snapshot of
// child names taken at OpenDir time, so concurrent mutations during
// enumeration behave predictably in tests.
type dirHandle struct {
	base  string
	names []string
	idx   int
}

func (d *Delegate) OpenDir(ctx context.Context, absPath string) (catalog.DelegateDirHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookup(absPath, true)
	if err != nil {
		return nil, err
	}
	if n.children == nil {
		return nil, errNotDir("opendir", absPath)
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return &dirHandle{base: absPath, names: names}, nil
}

func (d *Delegate) CloseDir(ctx context.Context, h catalog.DelegateDirHandle) error {
	return nil
}

func (d *Delegate) ReadDirx(ctx context.Context, h catalog.DelegateDirHandle) (*catalog.ExtendedStat, error) {
	dh := h.(*dirHandle)
	if dh.idx >= len(dh.names) {
		return nil, nil
	}
	name := dh.names[dh.idx]
	dh.idx++

	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookup(dh.base, true)
	if err != nil {
		return nil, err
	}
	child, ok := n.children[name]
	if !ok {
		return nil, errNotFound("readdirx", dh.base+"/"+name)
	}
	st := child.stat.Clone()
	return &st, nil
}

var _ catalog.Delegate = (*Delegate)(nil)

// MkdirAll seeds absPath and every missing ancestor directly in the
// tree, bypassing any caching layer, for test setup.
func (d *Delegate) MkdirAll(absPath string, mode uint32) error {
	comps := splitPath(absPath)
	cur := ""
	for _, c := range comps {
		cur += "/" + c
		if err := d.MakeDir(context.Background(), cur, mode); err != nil {
			if catalog.CodeOf(err) == catalog.CodeExists {
				continue
			}
			return err
		}
	}
	return nil
}

// Touch seeds a regular file at absPath directly in the tree, for test
// setup; its parent directory must already exist.
func (d *Delegate) Touch(absPath string, mode uint32) error {
	return d.Create(context.Background(), absPath, mode)
}
