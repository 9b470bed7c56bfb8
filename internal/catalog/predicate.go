package catalog

import "go.mongodb.org/mongo-driver/bson"

// Predicate is the catalog's neutral stand-in for the language-level regex
// objects the original packer embeds directly in its queries (spec.md §9).
// Callers build a Predicate from a plain pattern string; only this package
// translates it into the underlying query language (bson.M), so nothing
// outside internal/catalog ever constructs a Mongo filter by hand.
type Predicate struct {
	Pattern string
	// Anchored reports whether Pattern must match at the start of the
	// field value, mirroring a Python re.match (as opposed to re.search).
	Anchored bool
}

// Match builds a Predicate equivalent to an unanchored regex search.
func Match(pattern string) Predicate {
	return Predicate{Pattern: pattern}
}

// MatchAnchored builds a Predicate equivalent to re.match: the pattern
// must match starting at position 0.
func MatchAnchored(pattern string) Predicate {
	return Predicate{Pattern: pattern, Anchored: true}
}

// IsZero reports whether p carries no pattern, i.e. "don't filter on this
// field".
func (p Predicate) IsZero() bool {
	return p.Pattern == ""
}

func (p Predicate) bson() bson.M {
	pattern := p.Pattern
	if p.Anchored && (len(pattern) == 0 || pattern[0] != '^') {
		pattern = "^" + pattern
	}
	return bson.M{"$regex": pattern}
}
