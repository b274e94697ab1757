// Package vocabulary is the only place in the system that maps free-text
// exercise names into the cloud's controlled vocabulary (C5). Downstream
// code must never embed its own synonym tables; it calls Resolver.Resolve
// instead.
package vocabulary

import (
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/agnivade/levenshtein"
)

//go:embed data/exercises.csv
var defaultData embed.FS

// maxFuzzyDistance is the bounded edit-distance cutoff for the final
// fallback match: accept iff distance <= 3.
const maxFuzzyDistance = 3

// Entry is one resolved vocabulary hit.
type Entry struct {
	Category      string
	CanonicalName string
}

// overrideTable is the built-in, highest-precedence mapping. Entries here
// win over anything loaded from CSV.
var overrideTable = map[string]Entry{
	"BARBELL THRUSTER": {Category: "LEGS", CanonicalName: "SQUAT"},
	"GOBLET SQUAT":      {Category: "LEGS", CanonicalName: "SQUAT"},
}

// Resolver holds a loaded vocabulary and resolves free text against it. It
// is pure and deterministic given its loaded keys.
type Resolver struct {
	overrides map[string]Entry
	keys      map[string]Entry
	keyOrder  []string // first-seen order, for deterministic fuzzy tie-breaking
}

// New loads the built-in vocabulary CSV.
func New() (*Resolver, error) {
	f, err := defaultData.Open("data/exercises.csv")
	if err != nil {
		return nil, fmt.Errorf("vocabulary: open embedded csv: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load builds a Resolver from a CSV reader with columns
// category,canonical_name,synonyms (synonyms semicolon-separated).
func Load(r io.Reader) (*Resolver, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("vocabulary: parse csv: %w", err)
	}

	res := &Resolver{
		overrides: overrideTable,
		keys:      make(map[string]Entry),
	}

	for i, rec := range records {
		if i == 0 && strings.EqualFold(rec[0], "category") {
			continue // header row
		}
		category, canonical, synonymField := rec[0], rec[1], rec[2]
		entry := Entry{Category: category, CanonicalName: canonical}

		names := []string{canonical}
		if synonymField != "" {
			for _, syn := range strings.Split(synonymField, ";") {
				syn = strings.TrimSpace(syn)
				if syn != "" {
					names = append(names, syn)
				}
			}
		}

		for _, name := range names {
			res.addKeyings(name, entry)
		}
	}

	return res, nil
}

// addKeyings registers every normalized form of name: exact (uppercased),
// spaces->underscores, underscores->spaces, and punctuation-stripped. The
// first entry registered under a given key wins, preserving determinism
// when two source rows collide.
func (r *Resolver) addKeyings(name string, entry Entry) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	variants := []string{
		upper,
		strings.ReplaceAll(upper, " ", "_"),
		strings.ReplaceAll(upper, "_", " "),
		stripPunctuation(upper),
	}
	for _, key := range variants {
		if key == "" {
			continue
		}
		if _, exists := r.keys[key]; exists {
			continue
		}
		r.keys[key] = entry
		r.keyOrder = append(r.keyOrder, key)
	}
}

// stripPunctuation removes '_', ' ', and '-' entirely.
func stripPunctuation(s string) string {
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// Resolve maps free text to (category, canonical name) following the
// fixed precedence chain: override table, CSV exact/normalized keyings,
// stripped-punctuation lookup, underscore passthrough, bounded fuzzy
// match, then not-found.
func (r *Resolver) Resolve(input string) (category, canonical string, ok bool) {
	upper := strings.ToUpper(strings.TrimSpace(input))
	if upper == "" {
		return "", "", false
	}

	if e, found := r.overrides[upper]; found {
		return e.Category, e.CanonicalName, true
	}

	if e, found := r.keys[upper]; found {
		return e.Category, e.CanonicalName, true
	}

	if e, found := r.keys[stripPunctuation(upper)]; found {
		return e.Category, e.CanonicalName, true
	}

	if strings.Contains(upper, "_") {
		return upper, upper, true
	}

	if canonicalName, found := r.fuzzyMatch(upper); found {
		e := r.keys[canonicalName]
		return e.Category, e.CanonicalName, true
	}

	return "", "", false
}

// fuzzyMatch scans every loaded key in first-seen order, keeping the
// first key at or below maxFuzzyDistance with the smallest distance seen
// so far -- this makes ties resolve to whichever key was registered
// first, matching the determinism requirement.
func (r *Resolver) fuzzyMatch(upper string) (string, bool) {
	best := ""
	bestDist := maxFuzzyDistance + 1
	for _, key := range r.keyOrder {
		d := levenshtein.ComputeDistance(upper, key)
		if d < bestDist {
			bestDist = d
			best = key
		}
	}
	if bestDist > maxFuzzyDistance {
		return "", false
	}
	return best, true
}
