package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"locker-status-backend/internal/board"
	"locker-status-backend/internal/export"
	"locker-status-backend/internal/locker"
	"locker-status-backend/internal/model"
	"locker-status-backend/internal/mw"
	"locker-status-backend/internal/source"
)

// filterFromQuery reads q, status, group and inactive.
func filterFromQuery(c *gin.Context) (locker.Filter, error) {
	f := locker.Filter{
		Search: c.Query("q"),
		Status: locker.All,
		Group:  c.DefaultQuery("group", locker.All),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" && !strings.EqualFold(raw, locker.All) {
		st, err := locker.ParseStatus(raw)
		if err != nil {
			return f, fmt.Errorf("%w: %v", board.ErrInvalidForm, err)
		}
		f.Status = string(st)
	}
	if raw := c.Query("inactive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("%w: inactive must be a boolean", board.ErrInvalidForm)
		}
		f.ShowInactive = v
	}
	return f, nil
}

func cards(records []locker.Record) []board.Card {
	out := make([]board.Card, len(records))
	for i, r := range records {
		out[i] = board.Card{Record: r, Meta: r.DisplayMeta()}
	}
	return out
}

// ListLockers returns the filtered lockers ordered by code.
func (h *Handler) ListLockers(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	all := h.mirror.Snapshot()
	shown := locker.Apply(all, f)
	locker.SortByCode(shown)
	c.JSON(http.StatusOK, gin.H{
		"lockers": cards(shown),
		"total":   len(all),
		"shown":   len(shown),
	})
}

// GetBoard returns the filtered lockers grouped into ordered buckets.
func (h *Handler) GetBoard(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	all := h.mirror.Snapshot()
	shown := locker.Apply(all, f)
	buckets := h.grouper.Group(shown)
	out := make([]board.BucketView, len(buckets))
	for i, b := range buckets {
		out[i] = board.BucketView{Name: b.Name, Cards: cards(b.Records)}
	}
	c.JSON(http.StatusOK, gin.H{
		"buckets": out,
		"summary": locker.Summarize(locker.Apply(all, locker.Filter{ShowInactive: f.ShowInactive})),
		"legend":  legend(),
		"total":   len(all),
		"shown":   len(shown),
		"sync":    h.syncer.Status(),
	})
}

func legend() []gin.H {
	out := make([]gin.H, len(locker.Statuses))
	for i, st := range locker.Statuses {
		out[i] = gin.H{"status": st, "meta": st.Meta()}
	}
	return out
}

// CountLockers asks the remote table for a row count.
func (h *Handler) CountLockers(c *gin.Context) {
	q := source.Query{Eq: map[string]any{}}
	if raw := c.Query("status"); raw != "" {
		st, err := locker.ParseStatus(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		q.Eq[model.ColEstado] = string(st)
	}
	if g := strings.TrimSpace(c.Query("group")); g != "" {
		q.Eq[model.ColGrupo] = g
	}
	if raw := c.Query("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, fmt.Errorf("active must be a boolean"))
			return
		}
		q.Eq[model.ColActivo] = v
	}
	n, err := h.table.Count(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// GetLocker returns one locker from the mirror.
func (h *Handler) GetLocker(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, fmt.Errorf("invalid locker id %q", c.Param("id")))
		return
	}
	rec, ok := h.mirror.Get(locker.ID(id))
	if !ok {
		h.fail(c, fmt.Errorf("%w: %d", errLockerNotFound, id))
		return
	}
	c.JSON(http.StatusOK, board.Card{Record: rec, Meta: rec.DisplayMeta()})
}

// ExportLockers streams the filtered board as an xlsx workbook.
func (h *Handler) ExportLockers(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	all := h.mirror.Snapshot()
	shown := locker.Apply(all, f)

	var buf bytes.Buffer
	if err := export.WriteBoard(&buf, h.grouper.Group(shown), locker.Summarize(shown)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	name := fmt.Sprintf("casilleros-%s.xlsx", time.Now().Format("20060102-1504"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// RefreshLockers re-reads the table and re-subscribes to the change feed.
func (h *Handler) RefreshLockers(c *gin.Context) {
	if err := h.syncer.Refresh(c.Request.Context(), true); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sync": h.syncer.Status()})
}

type createLockersRequest struct {
	Codes string `json:"codes" binding:"required"`
	Group string `json:"group"`
}

// CreateLockers inserts lockers for a code or code range.
func (h *Handler) CreateLockers(c *gin.Context) {
	var req createLockersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := board.WithActor(c.Request.Context(), mw.Actor(c))
	res, err := h.gateway.CreateLockers(ctx, req.Codes, req.Group)
	if err != nil {
		status := statusFor(err)
		c.JSON(status, gin.H{"error": err.Error(), "created": res.Created, "skipped": res.Skipped})
		return
	}
	c.JSON(http.StatusCreated, res)
}
