package engram

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/engramdb/pkg/semantic"
)

// Fingerprint derives a deterministic content fingerprint for an ingested
// text. Two ingests of the same text with the same extracted features inside
// the same minute produce the same fingerprint, so callers can use it for
// idempotent receipt tracking and dedup.
//
// The digest covers the normalized text, the sorted keyword list with
// frequencies, the sorted concept list, and the timestamp truncated to the
// minute. Field separators keep "ab"+"c" distinct from "a"+"bc".
func Fingerprint(text string, features *semantic.Features, at time.Time) string {
	h, _ := blake2b.New256(nil)

	h.Write([]byte(normalizeText(text)))
	h.Write([]byte{0})

	keywords := make([]string, 0, len(features.Keywords))
	for _, kw := range features.Keywords {
		keywords = append(keywords, kw.Word+":"+strconv.Itoa(kw.Freq))
	}
	sort.Strings(keywords)
	h.Write([]byte(strings.Join(keywords, ",")))
	h.Write([]byte{0})

	concepts := make([]string, len(features.Concepts))
	copy(concepts, features.Concepts)
	sort.Strings(concepts)
	h.Write([]byte(strings.Join(concepts, ",")))
	h.Write([]byte{0})

	h.Write([]byte(at.UTC().Truncate(time.Minute).Format(time.RFC3339)))

	return hex.EncodeToString(h.Sum(nil))
}

// normalizeText lowercases and collapses runs of whitespace to single spaces
// so formatting differences do not change the fingerprint.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
