package catalog

import "strings"

// checksumAlgoByType maps the legacy short checksum type code to the
// long-form xattr algorithm name ("AD" -> adler32, "MD" -> md5, ...).
// Unknown type codes fall back to their lowercased form as the
// algorithm name.
var checksumAlgoByType = map[string]string{
	"AD":   "adler32",
	"MD":   "md5",
	"CS":   "crc32",
	"SHA1": "sha1",
}

// checksumTypeByAlgo is the inverse of checksumAlgoByType, used to
// derive a legacy type code back from an xattr key when reconciling in
// the other direction.
var checksumTypeByAlgo = map[string]string{
	"adler32": "AD",
	"md5":     "MD",
	"crc32":   "CS",
	"sha1":    "SHA1",
}

// checksumAlgoPriority orders which checksum.<algo> xattr wins when more
// than one is present and none is distinguished as "most recently set"
// by the wire format (msgpack map iteration order is not stable). A
// fixed precedence keeps reconciliation deterministic instead of
// trusting map order.
var checksumAlgoPriority = []string{"md5", "sha1", "adler32", "crc32"}

const checksumXattrPrefix = "checksum."

func checksumXattrKey(csumType string) (string, bool) {
	if csumType == "" {
		return "", false
	}
	algo, ok := checksumAlgoByType[strings.ToUpper(csumType)]
	if !ok {
		algo = strings.ToLower(csumType)
	}
	return checksumXattrPrefix + algo, true
}

// reconcileChecksum enforces ExtendedStat invariant (a): if a legacy
// checksum is set and its corresponding xattr is absent, the xattr is
// derived from it; if both are present and differ, the highest-priority
// present xattr wins and the legacy pair is refreshed from it.
func reconcileChecksum(st *ExtendedStat) {
	var winner, winnerAlgo string
	for _, algo := range checksumAlgoPriority {
		if v, ok := st.Xattr[checksumXattrPrefix+algo]; ok {
			winner, winnerAlgo = v, algo
			break
		}
	}
	if winner == "" {
		// No recognized checksum xattr present: derive one from the
		// legacy pair, if set.
		key, ok := checksumXattrKey(st.CSumType)
		if !ok {
			return
		}
		if v, present := st.Xattr[key]; present {
			// The legacy type's own xattr exists (an algorithm outside
			// checksumAlgoPriority): it wins over the legacy value.
			st.CSumValue = v
			return
		}
		if st.Xattr == nil {
			st.Xattr = make(map[string]string, 1)
		}
		st.Xattr[key] = st.CSumValue
		return
	}

	legacyKey, _ := checksumXattrKey(st.CSumType)
	if legacyKey == checksumXattrPrefix+winnerAlgo && st.CSumValue == winner {
		return // already consistent
	}

	typeCode, ok := checksumTypeByAlgo[winnerAlgo]
	if !ok {
		typeCode = strings.ToUpper(winnerAlgo)
	}
	st.CSumType = typeCode
	st.CSumValue = winner
}
