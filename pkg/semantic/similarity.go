package semantic

// Jaccard returns |a ∩ b| / |a ∪ b| for two string sets.
// Two empty sets have similarity 0, not 1; an item cannot match nothing.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// JaccardSlices is Jaccard over two string slices, deduplicating first.
func JaccardSlices(a, b []string) float64 {
	return Jaccard(toSet(a), toSet(b))
}

// KeywordOverlap returns the Jaccard similarity of two feature sets' keywords.
func KeywordOverlap(a, b *Features) float64 {
	return Jaccard(a.KeywordSet(), b.KeywordSet())
}

// ConceptOverlap returns the Jaccard similarity of two feature sets' concepts.
func ConceptOverlap(a, b *Features) float64 {
	return Jaccard(a.ConceptSet(), b.ConceptSet())
}

// ContentSimilarity scores how alike two annotated texts are.
//
// It is the mean of keyword overlap and concept overlap, each a Jaccard index
// over the respective sets. The result is in [0, 1]. This is the single
// similarity definition shared by all indices; every ranking in EngramDB
// bottoms out here.
func ContentSimilarity(a, b *Features) float64 {
	if a == nil || b == nil {
		return 0
	}
	return (KeywordOverlap(a, b) + ConceptOverlap(a, b)) / 2
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}
