// Package board implements the operator-facing locker board: per-session
// views with filter and selection state, and the gateway that writes
// assignment changes to the remote table.
package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"locker-status-backend/internal/audit"
	"locker-status-backend/internal/locker"
	"locker-status-backend/internal/metrics"
	"locker-status-backend/internal/mirror"
	"locker-status-backend/internal/model"
	"locker-status-backend/internal/source"
)

var (
	// ErrReleaseRequired is returned by Save when the occupant name would be
	// cleared; occupants leave through Release.
	ErrReleaseRequired = errors.New("locker is assigned; release it instead of clearing the occupant")
	// ErrInvalidForm is returned for form values the backend would reject.
	ErrInvalidForm = errors.New("invalid form")
)

// Operations recorded in metrics and audit entries.
const (
	OpSave    = "save"
	OpRelease = "release"
	OpStatus  = "status"
)

// DetailForm is the editable part of a locker shown in the detail panel.
type DetailForm struct {
	OccupantName     string `json:"occupant_name"`
	OccupantDocument string `json:"occupant_document_id"`
	AssignmentDate   string `json:"assignment_date"`
	Notes            string `json:"notes"`
	Group            string `json:"group"`
}

// FormFor mirrors rec into a form.
func FormFor(rec locker.Record) DetailForm {
	f := DetailForm{
		OccupantName:     deref(rec.OccupantName),
		OccupantDocument: deref(rec.OccupantDocument),
		Notes:            deref(rec.Notes),
		Group:            rec.Group,
	}
	if rec.AssignmentDate != nil {
		f.AssignmentDate = rec.AssignmentDate.Format(locker.DateLayout)
	}
	return f
}

type actorKey struct{}

// WithActor attaches the name of the operator making changes to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the operator attached with WithActor.
func ActorFrom(ctx context.Context) string {
	a, _ := ctx.Value(actorKey{}).(string)
	return a
}

// Gateway translates board actions into partial updates of the remote
// table. A confirmed row is folded into the mirror; a failed write leaves
// the mirror untouched and is not retried.
type Gateway struct {
	table   source.Table
	mirror  *mirror.Mirror
	audit   audit.Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewGateway creates a Gateway. pub may be nil.
func NewGateway(table source.Table, m *mirror.Mirror, pub audit.Publisher, met *metrics.Metrics, log *zap.Logger) *Gateway {
	if pub == nil {
		pub = audit.Nop{}
	}
	return &Gateway{
		table:   table,
		mirror:  m,
		audit:   pub,
		metrics: met,
		log:     log,
		now:     time.Now,
	}
}

// Save writes the form. A non-empty occupant name marks the locker as
// occupied and defaults the assignment date to today.
func (g *Gateway) Save(ctx context.Context, current locker.Record, form DetailForm) (locker.Record, error) {
	name := strings.TrimSpace(form.OccupantName)
	if name == "" && current.HasOccupant() {
		return locker.Record{}, ErrReleaseRequired
	}
	date, err := formDate(form.AssignmentDate)
	if err != nil {
		return locker.Record{}, err
	}

	patch := source.Patch{
		model.ColColaboradorNombre:    nullable(name),
		model.ColColaboradorDocumento: nullable(form.OccupantDocument),
		model.ColFechaAsignacion:      nullable(date),
		model.ColNotas:                nullable(form.Notes),
		model.ColGrupo:                nullable(form.Group),
	}
	if name != "" {
		if date == "" {
			patch[model.ColFechaAsignacion] = g.now().Format(locker.DateLayout)
		}
		setStatus(patch, locker.StatusOccupied)
	}
	return g.commit(ctx, OpSave, current, patch)
}

// Release clears the occupant and frees the locker. Notes and group are
// taken from the form.
func (g *Gateway) Release(ctx context.Context, current locker.Record, form DetailForm) (locker.Record, error) {
	patch := source.Patch{
		model.ColColaboradorNombre:    nil,
		model.ColColaboradorDocumento: nil,
		model.ColFechaAsignacion:      nil,
		model.ColNotas:                nullable(form.Notes),
		model.ColGrupo:                nullable(form.Group),
	}
	setStatus(patch, locker.StatusFree)
	return g.commit(ctx, OpRelease, current, patch)
}

// ChangeStatus sets the status and its display metadata only.
func (g *Gateway) ChangeStatus(ctx context.Context, current locker.Record, status locker.Status) (locker.Record, error) {
	if !status.Known() {
		return locker.Record{}, fmt.Errorf("%w: unknown status %q", ErrInvalidForm, status)
	}
	patch := source.Patch{}
	setStatus(patch, status)
	return g.commit(ctx, OpStatus, current, patch)
}

func (g *Gateway) commit(ctx context.Context, op string, current locker.Record, patch source.Patch) (locker.Record, error) {
	at := g.now().UTC()
	patch[model.ColUpdatedAt] = at

	row, err := g.table.Update(ctx, int64(current.ID), patch)
	g.metrics.Mutation(op, err)
	if err != nil {
		g.log.Warn("locker update failed",
			zap.String("op", op),
			zap.String("code", current.Code),
			zap.Error(err),
		)
		return locker.Record{}, fmt.Errorf("%s %s: %w", op, current.Code, err)
	}
	rec, err := locker.FromRow(row)
	if err != nil {
		return locker.Record{}, fmt.Errorf("%s %s: %w", op, current.Code, err)
	}
	if _, applied := g.mirror.Upsert(rec); !applied {
		g.log.Debug("confirmed row older than mirror copy", zap.Int64("id", int64(rec.ID)))
	}

	entry := audit.Entry{
		Op:       op,
		LockerID: int64(rec.ID),
		Code:     rec.Code,
		Status:   string(rec.Status),
		Version:  rec.Version,
		Actor:    ActorFrom(ctx),
		Changes:  patch,
		At:       at,
	}
	if err := g.audit.Publish(ctx, entry); err != nil {
		g.log.Warn("audit publish failed", zap.String("code", rec.Code), zap.Error(err))
	}
	return rec, nil
}

func setStatus(p source.Patch, s locker.Status) {
	meta := s.Meta()
	p[model.ColEstado] = string(s)
	p[model.ColColor] = meta.Color
	p[model.ColIcono] = meta.Icon
}

func formDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	d, ok := locker.ParseDate(raw)
	if !ok {
		return "", fmt.Errorf("%w: assignment date %q", ErrInvalidForm, raw)
	}
	return d.Format(locker.DateLayout), nil
}

// nullable maps blank input to a nil column value.
func nullable(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
