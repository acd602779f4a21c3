package locker

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Ungrouped is the bucket for lockers without a group.
const Ungrouped = "SIN GRUPO"

// DefaultPreferredGroups is the bucket order used when none is configured.
var DefaultPreferredGroups = []string{"LLENOS", "VACIOS", "HOMBRES", "MUJERES", "EXTERNOS"}

// Bucket is one named group of the rendered board.
type Bucket struct {
	Name    string   `json:"name"`
	Records []Record `json:"records"`
}

// Grouper partitions records into ordered buckets.
type Grouper struct {
	rank map[string]int
	tag  language.Tag
}

// NewGrouper creates a Grouper with the given preferred bucket order.
func NewGrouper(preferred []string) *Grouper {
	if len(preferred) == 0 {
		preferred = DefaultPreferredGroups
	}
	rank := make(map[string]int, len(preferred))
	for i, g := range preferred {
		g = strings.ToUpper(strings.TrimSpace(g))
		if _, dup := rank[g]; !dup && g != "" {
			rank[g] = i
		}
	}
	return &Grouper{rank: rank, tag: language.Spanish}
}

// Group returns buckets in display order: preferred names first, then the
// rest alphabetically, with Ungrouped last unless it is preferred.
func (g *Grouper) Group(records []Record) []Bucket {
	byName := make(map[string][]Record)
	for _, r := range records {
		k := r.GroupKey()
		byName[k] = append(byName[k], r)
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return g.less(names[i], names[j]) })

	col := g.collator()
	buckets := make([]Bucket, 0, len(names))
	for _, n := range names {
		recs := byName[n]
		sortByCode(col, recs)
		buckets = append(buckets, Bucket{Name: n, Records: recs})
	}
	return buckets
}

func (g *Grouper) less(a, b string) bool {
	ra, aok := g.rank[a]
	rb, bok := g.rank[b]
	switch {
	case aok && bok:
		return ra < rb
	case aok != bok:
		return aok
	}
	if (a == Ungrouped) != (b == Ungrouped) {
		return b == Ungrouped
	}
	return a < b
}

// collator is not safe for concurrent use; one is built per call.
func (g *Grouper) collator() *collate.Collator {
	return collate.New(g.tag, collate.Numeric, collate.IgnoreCase)
}

// SortByCode orders records by code with numeric-aware collation.
func SortByCode(records []Record) {
	sortByCode(collate.New(language.Spanish, collate.Numeric, collate.IgnoreCase), records)
}

func sortByCode(col *collate.Collator, records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if c := col.CompareString(records[i].Code, records[j].Code); c != 0 {
			return c < 0
		}
		return records[i].ID < records[j].ID
	})
}

// Summary counts records per normalized status.
type Summary struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

// Summarize counts records per status. Unknown statuses are counted as free,
// matching how they are displayed.
func Summarize(records []Record) Summary {
	s := Summary{Total: len(records), ByStatus: make(map[Status]int, len(Statuses))}
	for _, st := range Statuses {
		s.ByStatus[st] = 0
	}
	for _, r := range records {
		k := r.StatusKey()
		if !k.Known() {
			k = StatusFree
		}
		s.ByStatus[k]++
	}
	return s
}
