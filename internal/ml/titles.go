package ml

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/temcen/cinesense/pkg/models"
)

// DefaultFuzzyCutoff is the minimum match ratio for a fuzzy title hit.
const DefaultFuzzyCutoff = 0.45

// NormalizeTitle folds case, strips diacritics and collapses whitespace so
// that "Amélie " and "amelie" compare equal.
func NormalizeTitle(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, title)
	if err != nil {
		stripped = title
	}
	folded := cases.Fold().String(stripped)
	return strings.Join(strings.Fields(folded), " ")
}

// TitleIndex resolves a free-form reference (title or numeric id) to a
// catalog row. Titles are not unique; the first catalog row wins.
type TitleIndex struct {
	exact  map[string]int
	byID   map[int64]int
	titles [][]rune
	cutoff float64
}

// NewTitleIndex indexes catalog. A cutoff outside (0, 1] takes the default.
func NewTitleIndex(catalog []models.Item, cutoff float64) *TitleIndex {
	if cutoff <= 0 || cutoff > 1 {
		cutoff = DefaultFuzzyCutoff
	}
	idx := &TitleIndex{
		exact:  make(map[string]int, len(catalog)),
		byID:   make(map[int64]int, len(catalog)),
		titles: make([][]rune, len(catalog)),
		cutoff: cutoff,
	}
	for i, item := range catalog {
		key := NormalizeTitle(item.Title)
		if _, ok := idx.exact[key]; !ok {
			idx.exact[key] = i
		}
		if _, ok := idx.byID[item.ID]; !ok {
			idx.byID[item.ID] = i
		}
		idx.titles[i] = []rune(key)
	}
	return idx
}

// Resolve maps ref to a catalog row: exact normalized title first, then a
// numeric item id, then the best fuzzy match at or above the cutoff.
func (t *TitleIndex) Resolve(ref string) (int, bool) {
	key := NormalizeTitle(ref)
	if key == "" {
		return 0, false
	}
	if row, ok := t.exact[key]; ok {
		return row, true
	}
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		if row, ok := t.byID[id]; ok {
			return row, true
		}
	}
	row, _, ok := t.match([]rune(key))
	return row, ok
}

// Row returns the catalog row of itemID.
func (t *TitleIndex) Row(itemID int64) (int, bool) {
	row, ok := t.byID[itemID]
	return row, ok
}

// Match returns the best fuzzy match for query and its ratio. Titles whose
// length alone rules out reaching the cutoff are skipped.
func (t *TitleIndex) Match(query string) (int, float64, bool) {
	return t.match([]rune(NormalizeTitle(query)))
}

func (t *TitleIndex) match(q []rune) (int, float64, bool) {
	best, bestScore := -1, 0.0
	for i, title := range t.titles {
		if upperRatio(len(title), len(q)) < t.cutoff {
			continue
		}
		score := MatchRatio(title, q)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore < t.cutoff {
		return 0, bestScore, false
	}
	return best, bestScore, true
}

func upperRatio(la, lb int) float64 {
	if la+lb == 0 {
		return 1
	}
	return 2 * float64(min(la, lb)) / float64(la+lb)
}

// MatchRatio is the Ratcliff/Obershelp similarity 2*M/T, where M is the
// number of characters in recursively found longest common blocks and T the
// total length of both sequences.
func MatchRatio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}

	b2j := make(map[rune][]int)
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}

	matched := 0
	type span struct{ alo, ahi, blo, bhi int }
	queue := []span{{0, len(a), 0, len(b)}}
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := longestMatch(a, b2j, s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return 2 * float64(matched) / float64(total)
}

// longestMatch finds the longest common block of a[alo:ahi] and b[blo:bhi],
// preferring the earliest start in a, then in b.
func longestMatch(a []rune, b2j map[rune][]int, alo, ahi, blo, bhi int) (int, int, int) {
	besti, bestj, bestk := alo, blo, 0
	j2len := make(map[int]int)
	for i := alo; i < ahi; i++ {
		next := make(map[int]int)
		for _, j := range b2j[a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			next[j] = k
			if k > bestk {
				besti, bestj, bestk = i-k+1, j-k+1, k
			}
		}
		j2len = next
	}
	return besti, bestj, bestk
}
