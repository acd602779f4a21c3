package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"locker-status-backend/internal/board"
	"locker-status-backend/internal/locker"
	"locker-status-backend/internal/mw"
)

func (h *Handler) view(c *gin.Context) (*board.View, bool) {
	v, ok := h.registry.Get(c.Param("id"))
	if !ok {
		h.fail(c, fmt.Errorf("%w: %s", errViewNotFound, c.Param("id")))
		return nil, false
	}
	return v, true
}

// CreateView opens a board view with the default filter.
func (h *Handler) CreateView(c *gin.Context) {
	v := h.registry.Create()
	c.JSON(http.StatusCreated, v.Board())
}

// GetView renders the board for a view.
func (h *Handler) GetView(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v.Board())
}

// DeleteView closes a view.
func (h *Handler) DeleteView(c *gin.Context) {
	if !h.registry.Delete(c.Param("id")) {
		h.fail(c, fmt.Errorf("%w: %s", errViewNotFound, c.Param("id")))
		return
	}
	c.Status(http.StatusNoContent)
}

type filterRequest struct {
	board.FilterPatch
	Search *string `json:"search"`
}

// SetFilter changes the predicates present in the body and keeps the others.
// Search text is applied after the debounce delay; the response shows it as
// pending until then.
func (h *Handler) SetFilter(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	var req filterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := v.PatchFilter(req.FilterPatch); err != nil {
		h.fail(c, err)
		return
	}
	if req.Search != nil {
		v.SetSearch(*req.Search)
	}
	c.JSON(http.StatusOK, v.Board())
}

type selectRequest struct {
	ID int64 `json:"id" binding:"required"`
}

// Select makes a locker the view's selection.
func (h *Handler) Select(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := v.Select(locker.ID(req.ID)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v.Detail())
}

// Deselect clears the view's selection.
func (h *Handler) Deselect(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	v.Deselect()
	c.Status(http.StatusNoContent)
}

// GetDetail returns the detail form of the selection.
func (h *Handler) GetDetail(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v.Detail())
}

// Save writes the detail form of the selection.
func (h *Handler) Save(c *gin.Context) {
	h.formAction(c, (*board.View).Save)
}

// Release frees the selected locker.
func (h *Handler) Release(c *gin.Context) {
	h.formAction(c, (*board.View).Release)
}

func (h *Handler) formAction(c *gin.Context, action func(*board.View, context.Context, board.DetailForm) (locker.Record, error)) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	var form board.DetailForm
	if err := c.ShouldBindJSON(&form); err != nil {
		badRequest(c, err)
		return
	}
	ctx := board.WithActor(c.Request.Context(), mw.Actor(c))
	rec, err := action(v, ctx, form)
	h.respondMutation(c, v, rec, err)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ChangeStatus sets the status of the selected locker.
func (h *Handler) ChangeStatus(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := board.WithActor(c.Request.Context(), mw.Actor(c))
	rec, err := v.ChangeStatus(ctx, req.Status)
	h.respondMutation(c, v, rec, err)
}

func (h *Handler) respondMutation(c *gin.Context, v *board.View, rec locker.Record, err error) {
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.fail(c, err)
			return
		}
		c.JSON(status, gin.H{"error": err.Error(), "message": v.Message()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"locker":  board.Card{Record: rec, Meta: rec.DisplayMeta()},
		"message": v.Message(),
	})
}
