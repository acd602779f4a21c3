package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"locker-status-backend/internal/locker"
	"locker-status-backend/internal/mirror"
)

var (
	// ErrNoSelection is returned by actions that need a selected locker.
	ErrNoSelection = errors.New("no locker selected")
	// ErrUnknownLocker is returned when selecting a locker the mirror does not hold.
	ErrUnknownLocker = errors.New("locker not in board")
)

// MessageLevel is the severity of an inline board message.
type MessageLevel string

const (
	LevelInfo    MessageLevel = "info"
	LevelWarning MessageLevel = "warning"
	LevelError   MessageLevel = "error"
)

// Message is the last feedback shown to the operator.
type Message struct {
	Level MessageLevel `json:"level"`
	Text  string       `json:"text"`
	At    time.Time    `json:"at"`
}

// StatusSource reports synchronization state.
type StatusSource interface {
	Status() mirror.Status
}

// Card is one locker as rendered on the board.
type Card struct {
	locker.Record
	Meta     locker.Meta `json:"meta"`
	Selected bool        `json:"selected"`
}

// BucketView is one rendered group.
type BucketView struct {
	Name  string `json:"name"`
	Cards []Card `json:"cards"`
}

// State is the full board as seen by one view.
type State struct {
	ViewID        string         `json:"view_id"`
	Filter        locker.Filter  `json:"filter"`
	PendingSearch string         `json:"pending_search"`
	Buckets       []BucketView   `json:"buckets"`
	Summary       locker.Summary `json:"summary"`
	Total         int            `json:"total"`
	Shown         int            `json:"shown"`
	Sync          mirror.Status  `json:"sync"`
	Selected      *locker.Record `json:"selected,omitempty"`
	Message       *Message       `json:"message,omitempty"`
}

// Detail is the detail panel for the current selection.
type Detail struct {
	Enabled bool           `json:"enabled"`
	Record  *locker.Record `json:"record,omitempty"`
	Form    DetailForm     `json:"form"`
}

// View holds one operator's filter, search and selection over the shared
// mirror. It is safe for concurrent use.
type View struct {
	id       string
	mirror   *mirror.Mirror
	sync     StatusSource
	gateway  *Gateway
	grouper  *locker.Grouper
	debounce *Debouncer
	now      func() time.Time

	mu         sync.Mutex
	filter     locker.Filter
	pending    string
	selected   *locker.ID
	message    *Message
	lastSeen   time.Time
	unregister func()
}

func newView(id string, d Deps, debounce time.Duration, now func() time.Time) *View {
	v := &View{
		id:       id,
		mirror:   d.Mirror,
		sync:     d.Sync,
		gateway:  d.Gateway,
		grouper:  d.Grouper,
		debounce: NewDebouncer(debounce),
		now:      now,
		filter:   locker.Filter{Status: locker.All, Group: locker.All},
		lastSeen: now(),
	}
	v.unregister = d.Mirror.OnChange(v.onChange)
	return v
}

// ID returns the view identifier.
func (v *View) ID() string { return v.id }

// FilterPatch holds predicate changes for a view; nil fields keep their
// current value.
type FilterPatch struct {
	Status       *string `json:"status"`
	Group        *string `json:"group"`
	ShowInactive *bool   `json:"show_inactive"`
}

// SetFilter updates the status, group and inactive predicates. Status
// accepts the stored values, their English names and ALL.
func (v *View) SetFilter(status, group string, showInactive bool) error {
	return v.PatchFilter(FilterPatch{Status: &status, Group: &group, ShowInactive: &showInactive})
}

// PatchFilter updates only the predicates present in p.
func (v *View) PatchFilter(p FilterPatch) error {
	var st, grp string
	if p.Status != nil {
		st = locker.All
		if raw := strings.TrimSpace(*p.Status); raw != "" && !strings.EqualFold(raw, locker.All) {
			s, err := locker.ParseStatus(raw)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidForm, err)
			}
			st = string(s)
		}
	}
	if p.Group != nil {
		grp = strings.ToUpper(strings.TrimSpace(*p.Group))
		if grp == "" {
			grp = locker.All
		}
	}

	v.mu.Lock()
	if p.Status != nil {
		v.filter.Status = st
	}
	if p.Group != nil {
		v.filter.Group = grp
	}
	if p.ShowInactive != nil {
		v.filter.ShowInactive = *p.ShowInactive
	}
	v.mu.Unlock()
	return nil
}

// SetSearch records new search text. It is applied to the filter once no
// further text arrives within the debounce delay.
func (v *View) SetSearch(text string) {
	v.mu.Lock()
	v.pending = text
	v.mu.Unlock()
	v.debounce.Trigger(v.applySearch)
}

func (v *View) applySearch() {
	v.mu.Lock()
	v.filter.Search = v.pending
	v.mu.Unlock()
}

// Filter returns the applied filter and the search text still pending.
func (v *View) Filter() (locker.Filter, string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filter, v.pending
}

// Select makes id the current selection.
func (v *View) Select(id locker.ID) (locker.Record, error) {
	rec, ok := v.mirror.Get(id)
	if !ok {
		return locker.Record{}, fmt.Errorf("%w: %d", ErrUnknownLocker, id)
	}
	v.mu.Lock()
	v.selected = &id
	v.message = nil
	v.mu.Unlock()
	return rec, nil
}

// Deselect returns the view to no selection.
func (v *View) Deselect() {
	v.mu.Lock()
	v.selected = nil
	v.mu.Unlock()
}

// Detail returns the form for the selected locker, or a blank disabled form.
func (v *View) Detail() Detail {
	rec, err := v.current()
	if err != nil {
		return Detail{}
	}
	return Detail{Enabled: true, Record: &rec, Form: FormFor(rec)}
}

// Board renders the filtered, grouped board.
func (v *View) Board() State {
	v.mu.Lock()
	f := v.filter
	pending := v.pending
	var sel locker.ID
	hasSel := v.selected != nil
	if hasSel {
		sel = *v.selected
	}
	msg := v.message
	v.mu.Unlock()

	all := v.mirror.Snapshot()
	shown := locker.Apply(all, f)
	buckets := v.grouper.Group(shown)

	st := State{
		ViewID:        v.id,
		Filter:        f,
		PendingSearch: pending,
		Buckets:       make([]BucketView, 0, len(buckets)),
		Summary:       locker.Summarize(locker.Apply(all, locker.Filter{ShowInactive: f.ShowInactive})),
		Total:         len(all),
		Shown:         len(shown),
		Message:       msg,
	}
	if v.sync != nil {
		st.Sync = v.sync.Status()
	}
	for _, b := range buckets {
		bv := BucketView{Name: b.Name, Cards: make([]Card, 0, len(b.Records))}
		for _, r := range b.Records {
			bv.Cards = append(bv.Cards, Card{Record: r, Meta: r.DisplayMeta(), Selected: hasSel && r.ID == sel})
		}
		st.Buckets = append(st.Buckets, bv)
	}
	if hasSel {
		if rec, ok := v.mirror.Get(sel); ok {
			st.Selected = &rec
		}
	}
	return st
}

// Save writes the detail form for the selected locker.
func (v *View) Save(ctx context.Context, form DetailForm) (locker.Record, error) {
	cur, err := v.current()
	if err != nil {
		return locker.Record{}, err
	}
	rec, err := v.gateway.Save(ctx, cur, form)
	return v.report(rec, err, "Casillero %s guardado")
}

// Release frees the selected locker.
func (v *View) Release(ctx context.Context, form DetailForm) (locker.Record, error) {
	cur, err := v.current()
	if err != nil {
		return locker.Record{}, err
	}
	rec, err := v.gateway.Release(ctx, cur, form)
	return v.report(rec, err, "Casillero %s liberado")
}

// ChangeStatus sets the status of the selected locker.
func (v *View) ChangeStatus(ctx context.Context, status string) (locker.Record, error) {
	cur, err := v.current()
	if err != nil {
		return locker.Record{}, err
	}
	s, err := locker.ParseStatus(status)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidForm, err)
		v.setMessage(LevelWarning, err.Error())
		return locker.Record{}, err
	}
	rec, err := v.gateway.ChangeStatus(ctx, cur, s)
	return v.report(rec, err, "Casillero %s actualizado a "+string(s))
}

func (v *View) report(rec locker.Record, err error, okFormat string) (locker.Record, error) {
	switch {
	case err == nil:
		v.setMessage(LevelInfo, fmt.Sprintf(okFormat, rec.Code))
	case errors.Is(err, ErrReleaseRequired), errors.Is(err, ErrInvalidForm):
		v.setMessage(LevelWarning, err.Error())
	default:
		v.setMessage(LevelError, err.Error())
	}
	return rec, err
}

// Message returns the last inline message.
func (v *View) Message() *Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.message
}

func (v *View) setMessage(level MessageLevel, text string) {
	v.mu.Lock()
	v.message = &Message{Level: level, Text: text, At: v.now()}
	v.mu.Unlock()
}

// current returns the selected record. A selection whose record left the
// mirror is dropped.
func (v *View) current() (locker.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.selected == nil {
		return locker.Record{}, ErrNoSelection
	}
	rec, ok := v.mirror.Get(*v.selected)
	if !ok {
		v.selected = nil
		return locker.Record{}, ErrNoSelection
	}
	return rec, nil
}

func (v *View) onChange(c mirror.Change) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.selected == nil {
		return
	}
	switch c.Kind {
	case mirror.ChangeDelete:
		if c.ID != *v.selected {
			return
		}
	case mirror.ChangeReplace:
		if _, ok := v.mirror.Get(*v.selected); ok {
			return
		}
	default:
		return
	}
	v.selected = nil
	v.message = &Message{Level: LevelInfo, Text: "El casillero seleccionado fue eliminado", At: v.now()}
}

func (v *View) touch() {
	v.mu.Lock()
	v.lastSeen = v.now()
	v.mu.Unlock()
}

func (v *View) idleSince() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSeen
}

// Close stops the pending search and detaches from the mirror.
func (v *View) Close() {
	v.debounce.Stop()
	v.unregister()
}
