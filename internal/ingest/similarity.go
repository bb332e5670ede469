package ingest

// Similarity returns the Ratcliff/Obershelp similarity of two strings in
// [0, 1]: twice the total matched characters over the combined length, where
// matches are found by locating the longest common substring and recursing
// on the unmatched pieces either side of it.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	matched := matchTotal(ra, rb)
	return 2 * float64(matched) / float64(len(ra)+len(rb))
}

func matchTotal(a, b []rune) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchTotal(a[:ai], b[:bi])
	total += matchTotal(a[ai+size:], b[bi+size:])
	return total
}

// longestCommonSubstring finds the longest run of identical runes, breaking
// ties toward the earliest occurrence in a, then in b. Single rolling row
// keeps the working set at O(len(b)).
func longestCommonSubstring(a, b []rune) (ai, bi, size int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					ai = i - size
					bi = j - size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, size
}
