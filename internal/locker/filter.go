package locker

import "strings"

// All disables a status or group predicate.
const All = "ALL"

// Filter is the board's projection state.
type Filter struct {
	Search       string `json:"search"`
	Status       string `json:"status"`
	Group        string `json:"group"`
	ShowInactive bool   `json:"show_inactive"`
}

func isAll(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, All)
}

// Match reports whether r satisfies every active predicate of f.
func (f Filter) Match(r Record) bool {
	if !r.Active && !f.ShowInactive {
		return false
	}
	if !isAll(f.Status) && r.StatusKey() != NormalizeStatus(f.Status) {
		return false
	}
	if !isAll(f.Group) && r.GroupKey() != strings.ToUpper(strings.TrimSpace(f.Group)) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		return strings.Contains(searchText(r), q)
	}
	return true
}

// searchText joins the searchable fields, skipping null ones.
func searchText(r Record) string {
	parts := []string{r.Code}
	for _, p := range []*string{r.OccupantName, r.OccupantDocument, r.Notes} {
		if p != nil {
			parts = append(parts, *p)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Apply returns the records that match f, in their input order.
func Apply(records []Record, f Filter) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
