package matching

// Similarity returns the longest-matching-blocks ratio of two strings: twice the number
// of runes covered by matching blocks divided by the total rune count. Callers are
// expected to pass normalized names.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	// block discovery prefers the earliest match in the first argument,
	// ordering the pair keeps the score independent of argument order
	if b < a {
		a, b = b, a
	}

	ra := []rune(a)
	rb := []rune(b)
	matched := matchingRunes(ra, rb)
	return 2 * float64(matched) / float64(len(ra)+len(rb))
}

type span struct {
	alo, ahi, blo, bhi int
}

func matchingRunes(a, b []rune) int {
	index := make(map[rune][]int, len(b))
	for j, r := range b {
		index[r] = append(index[r], j)
	}

	total := 0
	queue := []span{{0, len(a), 0, len(b)}}
	for len(queue) > 0 {
		current := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, size := longestMatch(a, index, current)
		if size == 0 {
			continue
		}
		total += size
		if current.alo < i && current.blo < j {
			queue = append(queue, span{current.alo, i, current.blo, j})
		}
		if i+size < current.ahi && j+size < current.bhi {
			queue = append(queue, span{i + size, current.ahi, j + size, current.bhi})
		}
	}
	return total
}

// longestMatch finds the longest common block inside the span. Ties resolve to the
// block starting earliest in a, then earliest in b.
func longestMatch(a []rune, index map[rune][]int, s span) (int, int, int) {
	besti, bestj, bestSize := s.alo, s.blo, 0
	lengths := map[int]int{}
	for i := s.alo; i < s.ahi; i++ {
		next := map[int]int{}
		for _, j := range index[a[i]] {
			if j < s.blo {
				continue
			}
			if j >= s.bhi {
				break
			}
			k := lengths[j-1] + 1
			next[j] = k
			if k > bestSize {
				besti, bestj, bestSize = i-k+1, j-k+1, k
			}
		}
		lengths = next
	}
	return besti, bestj, bestSize
}
