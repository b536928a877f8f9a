package catalog

import "github.com/hellmich/nscache-go/codec"

// marshalStat encodes an ExtendedStat, clearing the transient NormPath
// field first since it must never be persisted to the cache.
func marshalStat(st ExtendedStat) ([]byte, error) {
	st.NormPath = ""
	return codec.Marshal(st)
}

// unmarshalStat decodes an ExtendedStat. NormPath is always empty on
// return; callers that need it must derive it again from the resolution
// they are currently performing.
func unmarshalStat(b []byte) (ExtendedStat, error) {
	var st ExtendedStat
	if err := codec.Unmarshal(b, &st); err != nil {
		return ExtendedStat{}, err
	}
	return st, nil
}

func marshalReplica(r Replica) ([]byte, error) { return codec.Marshal(r) }

func unmarshalReplica(b []byte) (Replica, error) {
	var r Replica
	if err := codec.Unmarshal(b, &r); err != nil {
		return Replica{}, err
	}
	return r, nil
}

// marshalReplicaList encodes the value stored behind a RPLI key; the
// cached list is always complete, never partial.
func marshalReplicaList(rs []Replica) ([]byte, error) { return codec.Marshal(rs) }

func unmarshalReplicaList(b []byte) ([]Replica, error) {
	var rs []Replica
	if err := codec.Unmarshal(b, &rs); err != nil {
		return nil, err
	}
	return rs, nil
}

func marshalDirListing(dl DirectoryListing) ([]byte, error) { return codec.Marshal(dl) }

func unmarshalDirListing(b []byte) (DirectoryListing, error) {
	var dl DirectoryListing
	if err := codec.Unmarshal(b, &dl); err != nil {
		return DirectoryListing{}, err
	}
	return dl, nil
}
