package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// Fingerprint is the deterministic cache and coalescing key of a request.
type Fingerprint string

// NormalizeIntent case-folds an intent and collapses whitespace.
func NormalizeIntent(intent string) string {
	folded := cases.Fold().String(intent)
	return strings.Join(strings.Fields(folded), " ")
}

// ComputeFingerprint hashes the normalized intent, the context snapshot and
// the domain identity. Every component is length-prefixed so that distinct
// inputs cannot collide by concatenation.
func ComputeFingerprint(intent string, context map[string]string, domainID string, domainVersion uint64) Fingerprint {
	h := sha256.New()
	var lenBuf [8]byte
	writeField := func(s string) {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}

	writeField(NormalizeIntent(intent))

	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeField(strconv.Itoa(len(keys)))
	for _, k := range keys {
		writeField(k)
		writeField(context[k])
	}

	writeField(domainID)
	writeField(strconv.FormatUint(domainVersion, 10))

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// Short returns an abbreviated fingerprint for log lines.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}
