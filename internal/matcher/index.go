package matcher

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/rcliao/muni-map/internal/embedding"
	"github.com/rcliao/muni-map/internal/model"
)

// Blend weights of the fuzzy score.
const (
	weightTFIDF     = 0.4
	weightEdit      = 0.4
	weightTokenSort = 0.2
)

const scoreEpsilon = 1e-9

var parenGroup = regexp.MustCompile(`\(([^()]*)\)`)

type entry struct {
	rec    model.Record
	key    string
	sorted string
	vec    embedding.Sparse
}

// Index is the searchable form of one snapshot. It is read-only once built.
type Index struct {
	m       *Matcher
	date    string
	entries []entry
	byKey   map[string][]int
	trigram map[string][]int
	tfidf   *embedding.TFIDF
}

func newIndex(m *Matcher, snap *model.Snapshot) *Index {
	ix := &Index{
		m:       m,
		date:    model.FormatDate(snap.Date),
		entries: make([]entry, 0, len(snap.Records)),
		byKey:   map[string][]int{},
		trigram: map[string][]int{},
	}
	keys := make([]string, 0, len(snap.Records))
	for _, r := range snap.Records {
		key := m.norm.Normalize(r.Name)
		if key == "" {
			continue
		}
		i := len(ix.entries)
		ix.entries = append(ix.entries, entry{rec: r, key: key, sorted: sortTokens(key)})
		ix.byKey[key] = append(ix.byKey[key], i)
		seen := map[string]bool{}
		for _, g := range embedding.NGrams(key, 3, 3) {
			if !seen[g] {
				seen[g] = true
				ix.trigram[g] = append(ix.trigram[g], i)
			}
		}
		keys = append(keys, key)
	}
	ix.tfidf = embedding.NewTFIDF(keys, 2, 3)
	for i := range ix.entries {
		ix.entries[i].vec = ix.tfidf.Sparse(ix.entries[i].key)
	}
	return ix
}

// Len returns the number of indexed records.
func (ix *Index) Len() int { return len(ix.entries) }

// Match resolves query against the indexed snapshot.
func (ix *Index) Match(query string) Match {
	m := ix.m
	name := m.norm.Parse(query)
	if name.Key == "" {
		return Match{Query: query, Status: StatusUnmatched}
	}
	if m.isForeign(query, name.Key) {
		return Match{Query: query, Key: name.Key, Confidence: 1, Status: StatusForeign}
	}

	// Exact key, then the name without parenthesised notes, then the notes.
	keys := []string{name.Key}
	if groups := parenGroup.FindAllStringSubmatch(query, -1); len(groups) > 0 {
		keys = append(keys, m.norm.Normalize(parenGroup.ReplaceAllString(query, " ")))
		for _, g := range groups {
			keys = append(keys, m.norm.Normalize(g[1]))
		}
	}
	for i, key := range keys {
		ids := ix.exact(key, name.Canton)
		if len(ids) == 0 {
			continue
		}
		if len(ids) > 1 {
			return Match{Query: query, Key: name.Key, Confidence: 1 / float64(len(ids)), Status: StatusAmbiguous}
		}
		status := StatusExact
		if i == 0 && name.Aliased {
			status = StatusAlias
		}
		return ix.found(query, name.Key, ix.entries[ids[0]].rec, 1, status)
	}

	best, ok := ix.fuzzy(name.Key, name.Canton)
	if !ok {
		return Match{Query: query, Key: name.Key, Status: StatusUnmatched}
	}
	if best.score < m.threshold {
		m.logger.Debug("match below threshold", "query", query, "date", ix.date, "best", best.e.rec.Name, "score", best.score)
		return Match{Query: query, Key: name.Key, Confidence: best.score, Status: StatusUnmatched}
	}
	return ix.found(query, name.Key, best.e.rec, best.score, StatusFuzzy)
}

func (ix *Index) found(query, key string, r model.Record, conf float64, status Status) Match {
	return Match{
		Query:      query,
		Key:        key,
		Code:       r.Code,
		Name:       r.Name,
		Canton:     r.Canton,
		Confidence: conf,
		Status:     status,
	}
}

// exact returns the entries with key, narrowed by canton when that leaves
// any. False positives are never returned.
func (ix *Index) exact(key, canton string) []int {
	var ids []int
	for _, i := range ix.byKey[key] {
		if !ix.m.falsePos[ix.entries[i].key] {
			ids = append(ids, i)
		}
	}
	if len(ids) > 1 && canton != "" {
		var narrowed []int
		for _, i := range ids {
			if ix.entries[i].rec.Canton == canton {
				narrowed = append(narrowed, i)
			}
		}
		if len(narrowed) > 0 {
			ids = narrowed
		}
	}
	return ids
}

type scored struct {
	e         *entry
	score     float64
	substring bool
	dist      int
}

// fuzzy scores every candidate sharing a trigram with key and returns the
// best after tie-breaking. Very short keys, and keys sharing no trigram with
// any entry, are scored against every entry.
func (ix *Index) fuzzy(key, canton string) (scored, bool) {
	candidates := ix.candidates(key)
	if canton != "" {
		var inCanton []int
		for _, i := range candidates {
			if ix.entries[i].rec.Canton == canton {
				inCanton = append(inCanton, i)
			}
		}
		if len(inCanton) > 0 {
			candidates = inCanton
		}
	}

	qvec := ix.tfidf.Sparse(key)
	qsorted := sortTokens(key)
	var best scored
	found := false
	for _, i := range candidates {
		e := &ix.entries[i]
		if ix.m.falsePos[e.key] {
			continue
		}
		dist := levenshtein.ComputeDistance(key, e.key)
		s := scored{
			e:         e,
			dist:      dist,
			substring: strings.Contains(e.key, key) || strings.Contains(key, e.key),
			score: weightTFIDF*embedding.SparseCosine(qvec, e.vec) +
				weightEdit*ratio(key, e.key, dist) +
				weightTokenSort*ratio(qsorted, e.sorted, -1),
		}
		if !found || better(s, best) {
			best, found = s, true
		}
	}
	if found {
		best.score = math.Min(1, best.score)
	}
	return best, found
}

func (ix *Index) candidates(key string) []int {
	if utf8.RuneCountInString(key) >= 3 {
		seen := map[int]bool{}
		var out []int
		for _, g := range embedding.NGrams(key, 3, 3) {
			for _, i := range ix.trigram[g] {
				if !seen[i] {
					seen[i] = true
					out = append(out, i)
				}
			}
		}
		if len(out) > 0 {
			sort.Ints(out)
			return out
		}
	}
	all := make([]int, len(ix.entries))
	for i := range all {
		all[i] = i
	}
	return all
}

// better orders by score, then substring match, lower edit distance,
// canonical name and finally code.
func better(a, b scored) bool {
	if d := a.score - b.score; math.Abs(d) > scoreEpsilon {
		return d > 0
	}
	if a.substring != b.substring {
		return a.substring
	}
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if a.e.rec.Name != b.e.rec.Name {
		return a.e.rec.Name < b.e.rec.Name
	}
	return a.e.rec.Code < b.e.rec.Code
}

// ratio is 1 - distance/longer length. A negative dist is computed.
func ratio(a, b string, dist int) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longer := max(la, lb)
	if longer == 0 {
		return 1
	}
	if dist < 0 {
		dist = levenshtein.ComputeDistance(a, b)
	}
	return 1 - float64(dist)/float64(longer)
}

func sortTokens(s string) string {
	f := strings.Fields(s)
	sort.Strings(f)
	return strings.Join(f, " ")
}
