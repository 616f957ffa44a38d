// SPDX-License-Identifier: MIT

package diarize

import "math"

func cosineDistance(a, b []float64) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1.0
	}
	return 1.0 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// clusterEmbeddings groups voiceprint vectors by agglomerative clustering with
// average linkage over cosine distance. Merging stops once the closest pair of
// clusters is further apart than threshold. Returns one cluster label per
// input embedding, relabeled so that label 0 is the largest cluster.
func clusterEmbeddings(embeddings [][]float64, threshold float64) []int {
	n := len(embeddings)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []int{0}
	}

	// pairwise distances, updated in place via Lance-Williams as clusters merge
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := cosineDistance(embeddings[i], embeddings[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	active := make([]bool, n)
	size := make([]int, n)
	member := make([]int, n) // embedding -> cluster root
	for i := 0; i < n; i++ {
		active[i] = true
		size[i] = 1
		member[i] = i
	}

	for {
		bestI, bestJ := -1, -1
		best := math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !active[j] {
					continue
				}
				if dist[i][j] < best {
					best = dist[i][j]
					bestI, bestJ = i, j
				}
			}
		}
		if bestI < 0 || best >= threshold {
			break
		}

		// merge bestJ into bestI, average linkage update
		ni, nj := float64(size[bestI]), float64(size[bestJ])
		for k := 0; k < n; k++ {
			if !active[k] || k == bestI || k == bestJ {
				continue
			}
			d := (ni*dist[bestI][k] + nj*dist[bestJ][k]) / (ni + nj)
			dist[bestI][k] = d
			dist[k][bestI] = d
		}
		size[bestI] += size[bestJ]
		active[bestJ] = false
		for k := 0; k < n; k++ {
			if member[k] == bestJ {
				member[k] = bestI
			}
		}
	}

	return relabelBySize(member)
}

// relabelBySize maps arbitrary cluster roots to dense labels ordered by
// descending cluster size, ties broken by first appearance.
func relabelBySize(member []int) []int {
	counts := map[int]int{}
	firstSeen := map[int]int{}
	for i, root := range member {
		counts[root]++
		if _, ok := firstSeen[root]; !ok {
			firstSeen[root] = i
		}
	}

	roots := make([]int, 0, len(counts))
	for root := range counts {
		roots = append(roots, root)
	}
	for i := 0; i < len(roots); i++ {
		for j := i + 1; j < len(roots); j++ {
			a, b := roots[i], roots[j]
			if counts[b] > counts[a] || (counts[b] == counts[a] && firstSeen[b] < firstSeen[a]) {
				roots[i], roots[j] = roots[j], roots[i]
			}
		}
	}

	label := map[int]int{}
	for i, root := range roots {
		label[root] = i
	}
	out := make([]int, len(member))
	for i, root := range member {
		out[i] = label[root]
	}
	return out
}
