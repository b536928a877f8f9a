// Package metrics implements the sampled, probabilistic logging hook the
// caching catalog uses in place of per-call logging: every catalog
// operation increments a per-operation counter, and roughly one call in
// LogFrequency is logged, bounding log volume on a busy namespace server
// while still surfacing activity over time.
package metrics

import (
	"log"
	"math/rand"
	"sync"
)

// Op identifies a countable catalog operation.
type Op int

const (
	OpExtendedStat Op = iota
	OpAccess
	OpAddReplica
	OpDeleteReplica
	OpGetReplicas
	OpSymlink
	OpReadLink
	OpUnlink
	OpCreate
	OpSetMode
	OpSetOwner
	OpSetSize
	OpSetChecksum
	OpSetACL
	OpUtime
	OpGetComment
	OpSetComment
	OpSetGUID
	OpUpdateXattr
	OpOpenDir
	OpCloseDir
	OpReadDir
	OpMakeDir
	OpRename
	OpRemoveDir
	OpWhereToRead
	OpWhereToWrite
	OpChangeDir
	OpExtendedStatByRFN
	OpGetReplicaByRFN
	OpUpdateReplica
	OpAccessReplica
	OpUmask

	OpGetPools
	OpGetPool
	OpNewPool
	OpUpdatePool
	OpDeletePool
	OpCancelWrite

	numOps
)

func (o Op) String() string {
	names := [numOps]string{
		OpExtendedStat:      "extended_stat",
		OpAccess:            "access",
		OpAddReplica:        "add_replica",
		OpDeleteReplica:     "delete_replica",
		OpGetReplicas:       "get_replicas",
		OpSymlink:           "symlink",
		OpReadLink:          "read_link",
		OpUnlink:            "unlink",
		OpCreate:            "create",
		OpSetMode:           "set_mode",
		OpSetOwner:          "set_owner",
		OpSetSize:           "set_size",
		OpSetChecksum:       "set_checksum",
		OpSetACL:            "set_acl",
		OpUtime:             "utime",
		OpGetComment:        "get_comment",
		OpSetComment:        "set_comment",
		OpSetGUID:           "set_guid",
		OpUpdateXattr:       "update_xattr",
		OpOpenDir:           "open_dir",
		OpCloseDir:          "close_dir",
		OpReadDir:           "read_dir",
		OpMakeDir:           "make_dir",
		OpRename:            "rename",
		OpRemoveDir:         "remove_dir",
		OpWhereToRead:       "where_to_read",
		OpWhereToWrite:      "where_to_write",
		OpChangeDir:         "change_dir",
		OpExtendedStatByRFN: "extended_stat_by_rfn",
		OpGetReplicaByRFN:   "get_replica_by_rfn",
		OpUpdateReplica:     "update_replica",
		OpAccessReplica:     "access_replica",
		OpUmask:             "umask",
		OpGetPools:          "get_pools",
		OpGetPool:           "get_pool",
		OpNewPool:           "new_pool",
		OpUpdatePool:        "update_pool",
		OpDeletePool:        "delete_pool",
		OpCancelWrite:       "cancel_write",
	}
	if int(o) < 0 || int(o) >= int(numOps) {
		return "unknown"
	}
	return names[o]
}

// FunctionCounter tracks a call count per operation behind a single
// mutex. A single mutex is deliberate here (unlike the xsync map used
// for the directory cursor registry): the counter array is a small,
// fixed-size, frequently-written block, and what needs to be true of it
// is simple mutual exclusion, not partitioned concurrent access.
type FunctionCounter struct {
	mu      sync.Mutex
	counts  [numOps]int64
	logger  *log.Logger
	logFreq int
	rng     *rand.Rand
}

// NewFunctionCounter builds a counter that logs, on average, one call in
// logFreq through logger. A logFreq of zero or a nil logger disables
// logging entirely; counts are still tracked and readable via Get.
func NewFunctionCounter(logger *log.Logger, logFreq int) *FunctionCounter {
	return &FunctionCounter{
		logger:  logger,
		logFreq: logFreq,
		rng:     rand.New(rand.NewSource(1)),
	}
}

// Incr records one call to op and, with probability 1/logFreq, logs it.
func (c *FunctionCounter) Incr(op Op) {
	c.mu.Lock()
	c.counts[op]++
	n := c.counts[op]
	shouldLog := c.logger != nil && c.logFreq > 0 && c.rng.Intn(c.logFreq) == 0
	c.mu.Unlock()

	if shouldLog {
		c.logger.Printf("catalog op=%s calls=%d", op, n)
	}
}

// Get returns the current count for op.
func (c *FunctionCounter) Get(op Op) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[op]
}

// Reset zeroes every counter.
func (c *FunctionCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = [numOps]int64{}
}
