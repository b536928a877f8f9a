// Package cachekey derives cache keys for catalog entities. Keys are
// kind-prefixed so that prefix-based invalidation (DeleteByPrefix) stays
// possible without a secondary index.
package cachekey

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Kind tags the entity a key addresses.
type Kind string

const (
	KindStat        Kind = "STAT"
	KindDir         Kind = "DIR"
	KindDirList     Kind = "DIRL"
	KindReplicaList Kind = "RPLI"
	KindReplica     Kind = "REPL"
	KindComment     Kind = "CMNT"
	KindLocation    Kind = "PRLC"
	KindSymlink     Kind = "SYML"
)

// Scheme selects how an identifier is turned into the tail of a key.
// The zero value is the current default.
type Scheme int

const (
	// SchemeHashed is the default: <kind>:<prefix>:<xxhash64 of identifier
	// in hex>. The human-readable prefix keeps keys debuggable in a redis
	// CLI session while the hash keeps the whole key short and bounded
	// regardless of identifier length (long absolute paths, long RFNs).
	SchemeHashed Scheme = iota
	// SchemeLegacyTrim reproduces the older scheme this replaces: the raw
	// identifier, trimmed to its last maxLegacyLen bytes. Kept only so a cache
	// populated by an older binary isn't silently treated as a miss on
	// every key during a rolling deploy; new writes should use
	// SchemeHashed.
	SchemeLegacyTrim
)

const maxLegacyLen = 200

// prefixLen bounds the human-readable prefix kept in a hashed key.
const prefixLen = 24

// Key builds the cache key for kind/identifier under the given scheme.
func Key(scheme Scheme, kind Kind, identifier string) string {
	switch scheme {
	case SchemeLegacyTrim:
		id := identifier
		if len(id) > maxLegacyLen {
			id = id[len(id)-maxLegacyLen:]
		}
		return string(kind) + ":" + id
	default:
		return string(kind) + ":" + humanPrefix(identifier) + ":" + hash(identifier)
	}
}

// MethodKey builds a key for a cached method call keyed on more than a
// single identifier, e.g. WhereToRead(path, protocols...).
func MethodKey(scheme Scheme, kind Kind, parts ...string) string {
	return Key(scheme, kind, strings.Join(parts, "\x1f"))
}

// Prefix returns the invalidation prefix for every key of kind, suitable
// for a DeleteByPrefix call. Both schemes share "<kind>:" as their
// prefix, so prefix-based invalidation works regardless of which scheme
// produced the key.
func Prefix(kind Kind) string {
	return string(kind) + ":"
}

func humanPrefix(identifier string) string {
	// last path-like segment reads best in practice; fall back to the
	// head of the string for non-path identifiers.
	if i := strings.LastIndexByte(identifier, '/'); i >= 0 && i+1 < len(identifier) {
		identifier = identifier[i+1:]
	}
	if len(identifier) > prefixLen {
		identifier = identifier[:prefixLen]
	}
	return sanitize(identifier)
}

// sanitize strips characters that would break a ':'-delimited key or a
// redis-cli glob on the prefix.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "x"
	}
	return b.String()
}

func hash(identifier string) string {
	return strconv.FormatUint(xxhash.Sum64String(identifier), 16)
}
