package board

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"locker-status-backend/internal/audit"
	"locker-status-backend/internal/locker"
	"locker-status-backend/internal/model"
	"locker-status-backend/internal/parse"
)

// OpCreate is recorded for lockers created from a code range.
const OpCreate = "create"

// CreateResult reports a batch creation.
type CreateResult struct {
	Created []locker.Record `json:"created"`
	Skipped []string        `json:"skipped"`
}

// CreateLockers inserts a free locker for every code in expr ("L1-L20" or a
// single code) that the mirror does not already hold. It stops at the first
// failed insert and returns what was created so far.
func (g *Gateway) CreateLockers(ctx context.Context, expr, group string) (CreateResult, error) {
	codes, err := parse.ExpandRange(expr)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: %v", ErrInvalidForm, err)
	}

	existing := make(map[string]bool)
	for _, r := range g.mirror.Snapshot() {
		existing[strings.ToUpper(r.Code)] = true
	}

	meta := locker.StatusFree.Meta()
	active := true
	res := CreateResult{Created: []locker.Record{}, Skipped: []string{}}
	for _, code := range codes {
		if existing[code] {
			res.Skipped = append(res.Skipped, code)
			continue
		}
		row := model.LockerRow{
			Codigo: code,
			Estado: string(locker.StatusFree),
			Color:  &meta.Color,
			Icono:  &meta.Icon,
			Activo: &active,
		}
		if grp, ok := nullable(group).(string); ok {
			row.Grupo = &grp
		}
		created, err := g.table.Insert(ctx, row)
		g.metrics.Mutation(OpCreate, err)
		if err != nil {
			return res, fmt.Errorf("create %s: %w", code, err)
		}
		rec, err := locker.FromRow(created)
		if err != nil {
			return res, fmt.Errorf("create %s: %w", code, err)
		}
		g.mirror.Upsert(rec)
		existing[code] = true
		res.Created = append(res.Created, rec)

		if err := g.audit.Publish(ctx, audit.Entry{
			Op:       OpCreate,
			LockerID: int64(rec.ID),
			Code:     rec.Code,
			Status:   string(rec.Status),
			Version:  rec.Version,
			Actor:    ActorFrom(ctx),
			Changes:  map[string]any{model.ColCodigo: rec.Code, model.ColGrupo: rec.Group},
			At:       g.now().UTC(),
		}); err != nil {
			g.log.Warn("audit publish failed", zap.String("code", rec.Code), zap.Error(err))
		}
	}
	return res, nil
}
