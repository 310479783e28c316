package retriever

import "sort"

// fuse merges the two ranked hit lists with reciprocal rank fusion:
// fused = 1/(k+rank_sem) + 1/(k+rank_lex), ranks starting at 1. A candidate
// absent from one list contributes only the term from the list it appears in.
// The output is sorted descending by fused score with ties broken by document
// id, then chunk index, so fusion is deterministic for identical inputs.
func fuse(semantic, lexical []Hit, k int) []Candidate {
	byKey := make(map[string]*Candidate, len(semantic)+len(lexical))

	for i, hit := range semantic {
		byKey[hit.Key()] = &Candidate{
			Chunk:        hit.Chunk,
			SemanticRank: i + 1,
		}
	}

	for i, hit := range lexical {
		if c, ok := byKey[hit.Key()]; ok {
			c.LexicalRank = i + 1
			continue
		}
		byKey[hit.Key()] = &Candidate{
			Chunk:       hit.Chunk,
			LexicalRank: i + 1,
		}
	}

	fused := make([]Candidate, 0, len(byKey))
	for _, c := range byKey {
		if c.SemanticRank > 0 {
			c.FusedScore += 1.0 / float64(k+c.SemanticRank)
		}
		if c.LexicalRank > 0 {
			c.FusedScore += 1.0 / float64(k+c.LexicalRank)
		}
		fused = append(fused, *c)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].FusedScore != fused[j].FusedScore {
			return fused[i].FusedScore > fused[j].FusedScore
		}
		if fused[i].DocumentID != fused[j].DocumentID {
			return fused[i].DocumentID < fused[j].DocumentID
		}
		return fused[i].ChunkIndex < fused[j].ChunkIndex
	})

	return fused
}
