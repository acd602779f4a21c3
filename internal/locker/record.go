package locker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"locker-status-backend/internal/model"
)

// DateLayout is the layout of assignment dates on the wire.
const DateLayout = "2006-01-02"

// ErrInvalidRow is returned when a backend row lacks a required field.
var ErrInvalidRow = errors.New("invalid locker row")

// ID identifies a locker. It is assigned by the backend.
type ID int64

// Record is one locker as held by the service, decoupled from the wire row.
type Record struct {
	ID               ID         `json:"id"`
	Code             string     `json:"code"`
	Status           Status     `json:"status"`
	Group            string     `json:"group"`
	OccupantName     *string    `json:"occupant_name"`
	OccupantDocument *string    `json:"occupant_document_id"`
	AssignmentDate   *time.Time `json:"assignment_date"`
	Notes            *string    `json:"notes"`
	Color            *string    `json:"color"`
	Icon             *string    `json:"icon"`
	Active           bool       `json:"active"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// FromRow validates a backend row and converts it into a Record.
// Descriptive fields are taken as-is; an unparseable assignment date is dropped.
func FromRow(row model.LockerRow) (Record, error) {
	if row.ID <= 0 {
		return Record{}, fmt.Errorf("%w: missing id", ErrInvalidRow)
	}
	code := strings.TrimSpace(row.Codigo)
	if code == "" {
		return Record{}, fmt.Errorf("%w: locker %d has no code", ErrInvalidRow, row.ID)
	}

	rec := Record{
		ID:               ID(row.ID),
		Code:             code,
		Status:           Status(row.Estado),
		OccupantName:     nonEmpty(row.ColaboradorNombre),
		OccupantDocument: nonEmpty(row.ColaboradorDocumento),
		Notes:            nonEmpty(row.Notas),
		Color:            nonEmpty(row.Color),
		Icon:             nonEmpty(row.Icono),
		Active:           row.Activo == nil || *row.Activo,
		Version:          row.Version,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if row.Grupo != nil {
		rec.Group = *row.Grupo
	}
	if row.FechaAsignacion != nil {
		if d, ok := ParseDate(*row.FechaAsignacion); ok {
			rec.AssignmentDate = &d
		}
	}
	return rec, nil
}

// ParseDate accepts a bare date or a full timestamp and keeps the date part.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < len(DateLayout) {
		return time.Time{}, false
	}
	d, err := time.Parse(DateLayout, raw[:len(DateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// StatusKey is the normalized status used for filtering.
func (r Record) StatusKey() Status {
	return NormalizeStatus(string(r.Status))
}

// GroupKey is the normalized group, or Ungrouped when empty.
func (r Record) GroupKey() string {
	g := strings.ToUpper(strings.TrimSpace(r.Group))
	if g == "" {
		return Ungrouped
	}
	return g
}

// DisplayMeta returns the legend metadata for the record's status.
func (r Record) DisplayMeta() Meta {
	return r.StatusKey().Meta()
}

// HasOccupant reports whether an occupant name is recorded.
func (r Record) HasOccupant() bool {
	return r.OccupantName != nil && strings.TrimSpace(*r.OccupantName) != ""
}

// OlderThan reports whether r is a strictly older copy of the same locker than o.
// Versions are compared first; update timestamps break ties or stand in when a
// backend does not maintain versions.
func (r Record) OlderThan(o Record) bool {
	if r.Version > 0 && o.Version > 0 && r.Version != o.Version {
		return r.Version < o.Version
	}
	if r.UpdatedAt.IsZero() || o.UpdatedAt.IsZero() {
		return false
	}
	return r.UpdatedAt.Before(o.UpdatedAt)
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := *s
	return &v
}
