package issues

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/mediapulse/pulse/internal/storage"
)

// cluster is one group of mutually related unissued mentions with its
// unit-length centroid.
type cluster struct {
	members  []storage.MentionVector
	centroid []float64
}

// clusterMentions groups vectors by single-linkage agglomeration: two
// groups merge when any cross pair reaches the similarity threshold,
// which makes the result exactly the connected components of the graph
// whose edges are pairs with cosine >= threshold. Components smaller
// than minSize are discarded as noise.
func clusterMentions(vectors []storage.MentionVector, threshold float64, minSize int) []cluster {
	n := len(vectors)
	if n == 0 {
		return nil
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if cosine(vectors[i].Vector, vectors[j].Vector) >= threshold {
				ri, rj := find(i), find(j)
				if ri != rj {
					parent[rj] = ri
				}
			}
		}
	}

	groups := make(map[int][]storage.MentionVector, n)
	for i, v := range vectors {
		root := find(i)
		groups[root] = append(groups[root], v)
	}

	out := make([]cluster, 0, len(groups))
	for _, members := range groups {
		if len(members) < minSize {
			continue
		}
		out = append(out, cluster{members: members, centroid: normalizedMean(members)})
	}
	// Map order is random; put the biggest cluster first and break ties
	// by the oldest member so a tick is reproducible.
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].members) != len(out[j].members) {
			return len(out[i].members) > len(out[j].members)
		}
		return out[i].members[0].Mention.EntryID < out[j].members[0].Mention.EntryID
	})
	return out
}

// normalizedMean is the unit-length mean of the member vectors.
func normalizedMean(members []storage.MentionVector) []float64 {
	if len(members) == 0 {
		return nil
	}
	acc := make([]float64, len(members[0].Vector))
	for _, m := range members {
		if len(m.Vector) == len(acc) {
			floats.Add(acc, m.Vector)
		}
	}
	return normalize(acc)
}

// mergedCentroid folds a cluster centroid into an issue centroid,
// weighting each side by its mention count, and renormalizes. An issue
// without a centroid adopts the cluster's.
func mergedCentroid(existing []float64, existingCount int, incoming []float64, incomingCount int) []float64 {
	if len(existing) == 0 {
		return normalize(append([]float64(nil), incoming...))
	}
	if len(incoming) != len(existing) {
		return existing
	}
	out := make([]float64, len(existing))
	for i := range out {
		out[i] = existing[i]*float64(existingCount) + incoming[i]*float64(incomingCount)
	}
	return normalize(out)
}

// normalize scales v to unit length in place and returns it. A zero
// vector is returned unchanged.
func normalize(v []float64) []float64 {
	if n := floats.Norm(v, 2); n > 0 {
		floats.Scale(1/n, v)
	}
	return v
}

// cosine is the similarity in [-1, 1] between two vectors, 0 when the
// dimensions disagree or either vector has no magnitude.
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
