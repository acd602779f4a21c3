package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"locker-status-backend/internal/board"
	"locker-status-backend/internal/locker"
	"locker-status-backend/internal/mirror"
	"locker-status-backend/internal/parse"
	"locker-status-backend/internal/source"
)

var (
	errViewNotFound   = errors.New("view not found")
	errLockerNotFound = errors.New("locker not found")
	errUnavailable    = errors.New("feature not configured")
)

// Storage stores evidence files.
type Storage interface {
	Upload(ctx context.Context, bucket, name, contentType string, body []byte) error
	PublicURL(bucket, name string) string
}

// Deps are the collaborators of the HTTP handlers. Storage, Subscriptions
// and WebPush may be nil; the routes that need them answer 503.
type Deps struct {
	Table         source.Table
	Syncer        *mirror.Syncer
	Gateway       *board.Gateway
	Registry      *board.Registry
	Grouper       *locker.Grouper
	Storage       Storage
	Bucket        string
	Subscriptions *gorm.DB
	WebPush       *webpush.Options
	PingInterval  time.Duration
	Log           *zap.Logger
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	table    source.Table
	syncer   *mirror.Syncer
	mirror   *mirror.Mirror
	gateway  *board.Gateway
	registry *board.Registry
	grouper  *locker.Grouper
	storage  Storage
	bucket   string
	subs     *gorm.DB
	webpush  *webpush.Options
	log      *zap.Logger

	pingInterval time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	grouper := d.Grouper
	if grouper == nil {
		grouper = locker.NewGrouper(nil)
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	ping := d.PingInterval
	if ping <= 0 {
		ping = 15 * time.Second
	}
	return &Handler{
		table:    d.Table,
		syncer:   d.Syncer,
		mirror:   d.Syncer.Mirror(),
		gateway:  d.Gateway,
		registry: d.Registry,
		grouper:  grouper,
		storage:  d.Storage,
		bucket:   d.Bucket,
		subs:     d.Subscriptions,
		webpush:  d.WebPush,
		log:      log,

		pingInterval: ping,
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, board.ErrInvalidForm), errors.Is(err, parse.ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, board.ErrNoSelection):
		return http.StatusConflict
	case errors.Is(err, board.ErrReleaseRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, source.ErrNotFound), errors.Is(err, board.ErrUnknownLocker),
		errors.Is(err, errViewNotFound), errors.Is(err, errLockerNotFound):
		return http.StatusNotFound
	case errors.Is(err, source.ErrNotReady), errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// requireReady answers 503 until the mirror holds a successful bulk read.
func (h *Handler) requireReady(c *gin.Context) {
	st := h.syncer.Status()
	if st.State != mirror.StateReady {
		resp := gin.H{"error": source.ErrNotReady.Error(), "sync": st}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.Next()
}

// Health reports readiness and synchronization status.
func (h *Handler) Health(c *gin.Context) {
	st := h.syncer.Status()
	code := http.StatusOK
	status := "ok"
	switch {
	case st.State != mirror.StateReady:
		code = http.StatusServiceUnavailable
		status = string(st.State)
	case !st.Live:
		status = "degraded"
	}
	c.JSON(code, gin.H{"status": status, "sync": st})
}
