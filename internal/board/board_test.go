package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"locker-status-backend/internal/audit"
	"locker-status-backend/internal/locker"
	"locker-status-backend/internal/mirror"
	"locker-status-backend/internal/model"
	"locker-status-backend/internal/source"
	"locker-status-backend/internal/source/sourcetest"
)

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Publish(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type fixture struct {
	table    *sourcetest.Table
	mirror   *mirror.Mirror
	gateway  *Gateway
	audit    *recordingAudit
	registry *Registry
}

func str(s string) *string { return &s }

func newFixture(t *testing.T, rows ...model.LockerRow) *fixture {
	t.Helper()
	table := sourcetest.NewTable(rows...)
	m := mirror.New(zap.NewNop())
	all, err := table.List(context.Background(), source.ByCode())
	require.NoError(t, err)
	m.Replace(all)

	rec := &recordingAudit{}
	gw := NewGateway(table, m, rec, nil, zap.NewNop())
	gw.now = func() time.Time { return fixedNow }

	reg := NewRegistry(Deps{Mirror: m, Gateway: gw, Grouper: locker.NewGrouper(nil)}, 0, time.Hour, zap.NewNop())
	reg.now = func() time.Time { return fixedNow }
	return &fixture{table: table, mirror: m, gateway: gw, audit: rec, registry: reg}
}

func lockerRow(id int64, code, estado, grupo string) model.LockerRow {
	return model.LockerRow{ID: id, Codigo: code, Estado: estado, Grupo: str(grupo), Version: 1}
}

func TestView_SaveAssignsOccupant(t *testing.T) {
	f := newFixture(t, lockerRow(1, "L1", "LIBRE", "LLENOS"))
	v := f.registry.Create()

	_, err := v.Select(1)
	require.NoError(t, err)

	rec, err := v.Save(context.Background(), DetailForm{OccupantName: "Jane Doe", Group: "LLENOS"})
	require.NoError(t, err)

	patches := f.table.Patches()
	require.Len(t, patches, 1)
	p := patches[0]
	assert.Equal(t, "OCUPADO", p[model.ColEstado])
	assert.Equal(t, "Jane Doe", p[model.ColColaboradorNombre])
	assert.Equal(t, "2024-05-01", p[model.ColFechaAsignacion])
	assert.Equal(t, "#ef4444", p[model.ColColor])
	assert.Equal(t, "lock", p[model.ColIcono])
	assert.Nil(t, p[model.ColNotas])
	assert.Equal(t, fixedNow, p[model.ColUpdatedAt])

	assert.Equal(t, locker.StatusOccupied, rec.Status)
	assert.Equal(t, int64(2), rec.Version)
	got, ok := f.mirror.Get(1)
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", *got.OccupantName)
	require.NotNil(t, got.AssignmentDate)
	assert.Equal(t, "2024-05-01", got.AssignmentDate.Format(locker.DateLayout))

	st := v.Board()
	require.NotNil(t, st.Message)
	assert.Equal(t, LevelInfo, st.Message.Level)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, OpSave, f.audit.entries[0].Op)
	assert.Equal(t, "L1", f.audit.entries[0].Code)
}

func TestView_SaveKeepsExplicitDate(t *testing.T) {
	f := newFixture(t, lockerRow(1, "L1", "LIBRE", ""))
	v := f.registry.Create()
	_, err := v.Select(1)
	require.NoError(t, err)

	_, err = v.Save(context.Background(), DetailForm{OccupantName: "Ana", AssignmentDate: "2024-04-20T00:00:00Z", Notes: " llave extra "})
	require.NoError(t, err)
	p := f.table.Patches()[0]
	assert.Equal(t, "2024-04-20", p[model.ColFechaAsignacion])
	assert.Equal(t, "llave extra", p[model.ColNotas])
	assert.Nil(t, p[model.ColGrupo])
}

func TestView_SaveRejectsBadDate(t *testing.T) {
	f := newFixture(t, lockerRow(1, "L1", "LIBRE", ""))
	v := f.registry.Create()
	_, err := v.Select(1)
	require.NoError(t, err)

	_, err = v.Save(context.Background(), DetailForm{OccupantName: "Ana", AssignmentDate: "ayer"})
	assert.ErrorIs(t, err, ErrInvalidForm)
	assert.Empty(t, f.table.Patches())
	assert.Equal(t, LevelWarning, v.Board().Message.Level)
}

func TestView_SaveWithoutNameOnFreeLocker(t *testing.T) {
	f := newFixture(t, lockerRow(1, "L1", "LIBRE", "VACIOS"))
	v := f.registry.Create()
	_, err := v.Select(1)
	require.NoError(t, err)

	_, err = v.Save(context.Background(), DetailForm{Notes: "puerta floja", Group: "VACIOS"})
	require.NoError(t, err)
	p := f.table.Patches()[0]
	_, hasStatus := p[model.ColEstado]
	assert.False(t, hasStatus)
	assert.Nil(t, p[model.ColFechaAsignacion])
	assert.Equal(t, "puerta floja", p[model.ColNotas])
}

func TestView_SaveRequiresRelease(t *testing.T) {
	row := lockerRow(1, "L1", "OCUPADO", "LLENOS")
	row.ColaboradorNombre = str("Jane Doe")
	f := newFixture(t, row)
	v := f.registry.Create()
	_, err := v.Select(1)
	require.NoError(t, err)

	_, err = v.Save(context.Background(), DetailForm{OccupantName: "  "})
	assert.ErrorIs(t, err, ErrReleaseRequired)
	assert.Empty(t, f.table.Patches())
	msg := v.Board().Message
	require.NotNil(t, msg)
	assert.Equal(t, LevelWarning, msg.Level)
}

func TestView_Release(t *testing.T) {
	row := lockerRow(1, "L1", "OCUPADO", "LLENOS")
	row.ColaboradorNombre = str("Jane Doe")
	row.ColaboradorDocumento = str("12345678")
	row.FechaAsignacion = str("2024-04-01")
	f := newFixture(t, row)
	v := f.registry.Create()
	_, err := v.Select(1)
	require.NoError(t, err)

	rec, err := v.Release(context.Background(), DetailForm{Notes: "revisar", Group: "VACIOS"})
	require.NoError(t, err)

	p := f.table.Patches()[0]
	assert.Equal(t, "LIBRE", p[model.ColEstado])
	assert.Equal(t, "#22c55e", p[model.ColColor])
	assert.Equal(t, "lock-open", p[model.ColIcono])
	for _, col := range []string{model.ColColaboradorNombre, model.ColColaboradorDocumento, model.ColFechaAsignacion} {
		v, ok := p[col]
		assert.True(t, ok, col)
		assert.Nil(t, v, col)
	}
	assert.Equal(t, "VACIOS", p[model.ColGrupo])

	assert.False(t, rec.HasOccupant())
	assert.Nil(t, rec.AssignmentDate)
	assert.Equal(t, "VACIOS", rec.Group)
}

func TestView_ChangeStatus(t *testing.T) {
	f := newFixture(t, lockerRow(1, "L1", "LIBRE", "LLENOS"))
	v := f.registry.Create()
	_, err := v.Select(1)
	require.NoError(t, err)

	rec, err := v.ChangeStatus(context.Background(), "maintenance")
	require.NoError(t, err)
	assert.Equal(t, locker.StatusMaintenance, rec.Status)

	p := f.table.Patches()[0]
	assert.Len(t, p, 4)
	assert.Equal(t, "MANTENIMIENTO", p[model.ColEstado])
	assert.Equal(t, "wrench", p[model.ColIcono])

	_, err = v.ChangeStatus(context.Background(), "ROTO")
	assert.ErrorIs(t, err, ErrInvalidForm)
	assert.Len(t, f.table.Patches(), 1)
}

func TestView_RemoteFailureLeavesMirror(t *testing.T) {
	f := newFixture(t, lockerRow(1, "L1", "LIBRE", "LLENOS"))
	f.table.UpdateErr = errors.New("connection reset")
	v := f.registry.Create()
	_, err := v.Select(1)
	require.NoError(t, err)

	_, err = v.Save(context.Background(), DetailForm{OccupantName: "Jane Doe"})
	require.Error(t, err)

	got, _ := f.mirror.Get(1)
	assert.Equal(t, locker.StatusFree, got.Status)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, LevelError, v.Board().Message.Level)
	assert.Empty(t, f.audit.entries)
}

func TestView_ActionsNeedSelection(t *testing.T) {
	f := newFixture(t, lockerRow(1, "L1", "LIBRE", "LLENOS"))
	v := f.registry.Create()
	ctx := context.Background()

	_, err := v.Save(ctx, DetailForm{OccupantName: "x"})
	assert.ErrorIs(t, err, ErrNoSelection)
	_, err = v.Release(ctx, DetailForm{})
	assert.ErrorIs(t, err, ErrNoSelection)
	_, err = v.ChangeStatus(ctx, "LIBRE")
	assert.ErrorIs(t, err, ErrNoSelection)

	d := v.Detail()
	assert.False(t, d.Enabled)
	assert.Equal(t, DetailForm{}, d.Form)

	_, err = v.Select(99)
	assert.ErrorIs(t, err, ErrUnknownLocker)
}

func TestView_DetailAndDeselect(t *testing.T) {
	row := lockerRow(1, "L1", "OCUPADO", "LLENOS")
	row.ColaboradorNombre = str("Jane Doe")
	row.FechaAsignacion = str("2024-04-01")
	f := newFixture(t, row)
	v := f.registry.Create()
	_, err := v.Select(1)
	require.NoError(t, err)

	d := v.Detail()
	assert.True(t, d.Enabled)
	assert.Equal(t, DetailForm{OccupantName: "Jane Doe", AssignmentDate: "2024-04-01", Group: "LLENOS"}, d.Form)

	v.Deselect()
	assert.False(t, v.Detail().Enabled)
}

func TestView_SelectedLockerDeleted(t *testing.T) {
	f := newFixture(t, lockerRow(1, "L1", "LIBRE", "LLENOS"), lockerRow(2, "L2", "LIBRE", "LLENOS"))
	v := f.registry.Create()
	_, err := v.Select(1)
	require.NoError(t, err)

	f.mirror.Remove(2)
	assert.True(t, v.Detail().Enabled)

	f.mirror.Remove(1)
	assert.False(t, v.Detail().Enabled)
	st := v.Board()
	assert.Nil(t, st.Selected)
	require.NotNil(t, st.Message)
	assert.Equal(t, LevelInfo, st.Message.Level)
}

func TestView_BoardGroupsAndFilters(t *testing.T) {
	inactive := lockerRow(5, "L5", "LIBRE", "HOMBRES")
	off := false
	inactive.Activo = &off
	f := newFixture(t,
		lockerRow(1, "L10", "LIBRE", "VACIOS"),
		lockerRow(2, "L2", "OCUPADO", "LLENOS"),
		lockerRow(3, "L1", "MANTENIMIENTO", ""),
		lockerRow(4, "L3", "LIBRE", "vacios"),
		inactive,
	)
	v := f.registry.Create()
	_, err := v.Select(4)
	require.NoError(t, err)

	st := v.Board()
	assert.Equal(t, 5, st.Total)
	assert.Equal(t, 4, st.Shown)
	require.Len(t, st.Buckets, 3)
	assert.Equal(t, "LLENOS", st.Buckets[0].Name)
	assert.Equal(t, "VACIOS", st.Buckets[1].Name)
	assert.Equal(t, locker.Ungrouped, st.Buckets[2].Name)
	require.Len(t, st.Buckets[1].Cards, 2)
	assert.Equal(t, "L3", st.Buckets[1].Cards[0].Code)
	assert.True(t, st.Buckets[1].Cards[0].Selected)
	assert.Equal(t, "L10", st.Buckets[1].Cards[1].Code)
	assert.Equal(t, "#22c55e", st.Buckets[1].Cards[1].Meta.Color)
	assert.Equal(t, 2, st.Summary.ByStatus[locker.StatusFree])
	require.NotNil(t, st.Selected)
	assert.Equal(t, locker.ID(4), st.Selected.ID)

	require.NoError(t, v.SetFilter("free", "", true))
	st = v.Board()
	assert.Equal(t, "LIBRE", st.Filter.Status)
	assert.Equal(t, 3, st.Shown)

	assert.ErrorIs(t, v.SetFilter("ROTO", "", false), ErrInvalidForm)
}

func TestView_PatchFilterKeepsAbsentFields(t *testing.T) {
	f := newFixture(t, lockerRow(1, "L1", "LIBRE", "LLENOS"))
	v := f.registry.Create()
	defer v.Close()

	require.NoError(t, v.SetFilter("OCUPADO", "llenos", true))

	show := false
	require.NoError(t, v.PatchFilter(FilterPatch{ShowInactive: &show}))
	applied, _ := v.Filter()
	assert.Equal(t, "OCUPADO", applied.Status)
	assert.Equal(t, "LLENOS", applied.Group)
	assert.False(t, applied.ShowInactive)

	group := ""
	require.NoError(t, v.PatchFilter(FilterPatch{Group: &group}))
	applied, _ = v.Filter()
	assert.Equal(t, "OCUPADO", applied.Status)
	assert.Equal(t, locker.All, applied.Group)

	bad := "ROTO"
	assert.ErrorIs(t, v.PatchFilter(FilterPatch{Status: &bad, ShowInactive: &show}), ErrInvalidForm)
	applied, _ = v.Filter()
	assert.Equal(t, "OCUPADO", applied.Status)
}

func TestView_SearchIsDebounced(t *testing.T) {
	f := newFixture(t, lockerRow(1, "L1", "LIBRE", "LLENOS"), lockerRow(2, "L2", "LIBRE", "LLENOS"))
	f.registry.debounce = 20 * time.Millisecond
	v := f.registry.Create()
	defer v.Close()

	v.SetSearch("l")
	v.SetSearch("l2")
	applied, pending := v.Filter()
	assert.Equal(t, "", applied.Search)
	assert.Equal(t, "l2", pending)

	assert.Eventually(t, func() bool {
		applied, _ := v.Filter()
		return applied.Search == "l2"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, v.Board().Shown)
}

func TestRegistry_Lifecycle(t *testing.T) {
	f := newFixture(t, lockerRow(1, "L1", "LIBRE", "LLENOS"))
	now := fixedNow
	f.registry.now = func() time.Time { return now }

	a := f.registry.Create()
	b := f.registry.Create()
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, f.registry.Len())

	now = now.Add(45 * time.Minute)
	_, ok := f.registry.Get(b.ID())
	require.True(t, ok)

	now = now.Add(30 * time.Minute)
	assert.Equal(t, 1, f.registry.Sweep())
	_, ok = f.registry.Get(a.ID())
	assert.False(t, ok)

	assert.True(t, f.registry.Delete(b.ID()))
	assert.False(t, f.registry.Delete(b.ID()))
	assert.Equal(t, 0, f.registry.Len())
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	var mu sync.Mutex
	var calls []int
	for i := 0; i < 3; i++ {
		i := i
		d.Trigger(func() {
			mu.Lock()
			calls = append(calls, i)
			mu.Unlock()
		})
	}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, time.Second, 2*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int{2}, calls)
	mu.Unlock()

	d.Trigger(func() { t.Error("stopped function ran") })
	d.Stop()
	time.Sleep(30 * time.Millisecond)
}

func TestGateway_CreateLockers(t *testing.T) {
	f := newFixture(t, lockerRow(1, "L2", "OCUPADO", "LLENOS"))

	res, err := f.gateway.CreateLockers(context.Background(), "L1-L3", "vacios")
	require.NoError(t, err)
	assert.Equal(t, []string{"L2"}, res.Skipped)
	require.Len(t, res.Created, 2)
	assert.Equal(t, "L1", res.Created[0].Code)
	assert.Equal(t, "vacios", res.Created[0].Group)
	assert.Equal(t, locker.StatusFree, res.Created[0].Status)
	assert.Equal(t, 3, f.mirror.Len())
	assert.Len(t, f.audit.entries, 2)

	res, err = f.gateway.CreateLockers(context.Background(), "L1-L3", "")
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Len(t, res.Skipped, 3)

	_, err = f.gateway.CreateLockers(context.Background(), "L5-L1", "")
	assert.ErrorIs(t, err, ErrInvalidForm)
}
