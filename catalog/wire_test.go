package catalog

import (
	"testing"
	"time"
)

func TestMarshalStat_RoundTrip(t *testing.T) {
	in := ExtendedStat{
		Ino:       42,
		ParentIno: 7,
		Name:      "file.root",
		Mode:      ModeRegular | 0644,
		Size:      1024,
		MTime:     time.Unix(1700000000, 0).UTC(),
		CSumType:  "AD",
		CSumValue: "deadbeef",
		ACL: []ACLEntry{
			{Kind: ACLUser, ID: 1000, Perm: 6},
		},
		Xattr:    map[string]string{"checksum.adler32": "deadbeef"},
		NormPath: "/should/not/survive",
	}

	b, err := marshalStat(in)
	if err != nil {
		t.Fatalf("marshalStat: %v", err)
	}
	out, err := unmarshalStat(b)
	if err != nil {
		t.Fatalf("unmarshalStat: %v", err)
	}

	if out.NormPath != "" {
		t.Fatalf("NormPath must not survive a round trip, got %q", out.NormPath)
	}
	out.NormPath = in.NormPath // ignore for the rest of the comparison
	if out.Ino != in.Ino || out.Name != in.Name || out.Mode != in.Mode || out.Size != in.Size {
		t.Fatalf("round trip mismatch: in=%+v out=%+v", in, out)
	}
	if !out.MTime.Equal(in.MTime) {
		t.Fatalf("MTime mismatch: in=%v out=%v", in.MTime, out.MTime)
	}
	if len(out.ACL) != 1 || out.ACL[0] != in.ACL[0] {
		t.Fatalf("ACL mismatch: in=%+v out=%+v", in.ACL, out.ACL)
	}
	if out.Xattr["checksum.adler32"] != "deadbeef" {
		t.Fatalf("Xattr mismatch: %+v", out.Xattr)
	}
}

func TestUnmarshalStat_MalformedBytesError(t *testing.T) {
	if _, err := unmarshalStat([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatalf("expected an error decoding malformed bytes")
	}
}

func TestMarshalReplicaList_RoundTrip(t *testing.T) {
	in := []Replica{
		{ID: 1, FileID: 42, Pool: "pool-a", RFN: "srm://host/a"},
		{ID: 2, FileID: 42, Pool: "pool-b", RFN: "srm://host/b"},
	}
	b, err := marshalReplicaList(in)
	if err != nil {
		t.Fatalf("marshalReplicaList: %v", err)
	}
	out, err := unmarshalReplicaList(b)
	if err != nil {
		t.Fatalf("unmarshalReplicaList: %v", err)
	}
	if len(out) != 2 || out[0].RFN != in[0].RFN || out[1].RFN != in[1].RFN {
		t.Fatalf("round trip mismatch: in=%+v out=%+v", in, out)
	}
}

func TestMarshalDirListing_RoundTrip(t *testing.T) {
	in := DirectoryListing{State: ListingValid, Names: []string{"a", "b", "c"}}
	b, err := marshalDirListing(in)
	if err != nil {
		t.Fatalf("marshalDirListing: %v", err)
	}
	out, err := unmarshalDirListing(b)
	if err != nil {
		t.Fatalf("unmarshalDirListing: %v", err)
	}
	if out.State != in.State || len(out.Names) != len(in.Names) {
		t.Fatalf("round trip mismatch: in=%+v out=%+v", in, out)
	}
}
