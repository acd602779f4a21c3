package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"locker-status-backend/internal/board"
	"locker-status-backend/internal/db"
	"locker-status-backend/internal/locker"
	"locker-status-backend/internal/metrics"
	"locker-status-backend/internal/mirror"
	"locker-status-backend/internal/model"
	"locker-status-backend/internal/mw"
	"locker-status-backend/internal/source/sourcetest"
)

const testSecret = "api-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (s *fakeStorage) Upload(_ context.Context, bucket, name, contentType string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+name] = body
	s.types[bucket+"/"+name] = contentType
	return nil
}

func (s *fakeStorage) PublicURL(bucket, name string) string {
	return "https://cdn.example/" + bucket + "/" + name
}

type testEnv struct {
	router  *gin.Engine
	table   *sourcetest.Table
	mirror  *mirror.Mirror
	syncer  *mirror.Syncer
	storage *fakeStorage
}

func str(s string) *string { return &s }

func newEnv(t *testing.T, ready bool, webpushOpts *webpush.Options) *testEnv {
	t.Helper()
	occupied := model.LockerRow{ID: 2, Codigo: "L2", Estado: "OCUPADO", Grupo: str("LLENOS"), ColaboradorNombre: str("Ana Ruiz"), Version: 1}
	table := sourcetest.NewTable(
		model.LockerRow{ID: 1, Codigo: "L1", Estado: "LIBRE", Grupo: str("LLENOS"), Version: 1},
		occupied,
		model.LockerRow{ID: 3, Codigo: "L10", Estado: "MANTENIMIENTO", Grupo: str("VACIOS"), Version: 1},
	)
	log := zap.NewNop()
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	m := mirror.New(log)
	syncer := mirror.NewSyncer(table, m, log, met)
	if ready {
		require.NoError(t, syncer.Refresh(context.Background(), true))
	}
	t.Cleanup(syncer.Close)

	gw := board.NewGateway(table, m, nil, met, log)
	grouper := locker.NewGrouper(nil)
	registry := board.NewRegistry(board.Deps{Mirror: m, Sync: syncer, Gateway: gw, Grouper: grouper}, 0, time.Hour, log)

	subsDB, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := subsDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(subsDB))

	storage := &fakeStorage{objects: map[string][]byte{}, types: map[string]string{}}
	h := NewHandler(Deps{
		Table:         table,
		Syncer:        syncer,
		Gateway:       gw,
		Registry:      registry,
		Grouper:       grouper,
		Storage:       storage,
		Bucket:        "evidencias",
		Subscriptions: subsDB,
		WebPush:       webpushOpts,
		PingInterval:  time.Hour,
		Log:           log,
	})
	cache := mw.NewResponseCache(time.Minute)
	m.OnChange(func(mirror.Change) { cache.Flush() })
	router := NewRouter(h, RouterConfig{
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
		Cache:           cache,
		JWTSecret:       testSecret,
		MutationRoles:   []string{"admin", "supervisor"},
		Gatherer:        reg,
	})
	return &testEnv{router: router, table: table, mirror: m, syncer: syncer, storage: storage}
}

func token(t *testing.T, role string) string {
	t.Helper()
	claims := mw.Claims{
		Role: role,
		Name: "Supervisor Turno A",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + s
}

func (e *testEnv) do(t *testing.T, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	e := newEnv(t, true, nil)
	w := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])

	w = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lockers_mirror_records 3")
}

func TestNotReady(t *testing.T) {
	e := newEnv(t, false, nil)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/api/lockers", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodPost, "/api/views", "", nil).Code)

	w := e.do(t, http.MethodPost, "/api/lockers/refresh", token(t, "admin"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/lockers", "", nil).Code)
}

func TestListLockers(t *testing.T) {
	e := newEnv(t, true, nil)

	w := e.do(t, http.MethodGet, "/api/lockers", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	lockers := body["lockers"].([]any)
	require.Len(t, lockers, 3)
	codes := []string{}
	for _, l := range lockers {
		codes = append(codes, l.(map[string]any)["code"].(string))
	}
	assert.Equal(t, []string{"L1", "L2", "L10"}, codes)
	first := lockers[0].(map[string]any)
	assert.Equal(t, "#22c55e", first["meta"].(map[string]any)["color"])

	w = e.do(t, http.MethodGet, "/api/lockers?status=occupied&q=ruiz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, float64(1), body["shown"])
	assert.Equal(t, float64(3), body["total"])

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/lockers?status=ROTO", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/lockers?inactive=maybe", "", nil).Code)
}

func TestBoardAndCache(t *testing.T) {
	e := newEnv(t, true, nil)

	w := e.do(t, http.MethodGet, "/api/lockers/board", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	buckets := body["buckets"].([]any)
	require.Len(t, buckets, 2)
	assert.Equal(t, "LLENOS", buckets[0].(map[string]any)["name"])
	assert.Equal(t, "VACIOS", buckets[1].(map[string]any)["name"])
	summary := body["summary"].(map[string]any)["by_status"].(map[string]any)
	assert.Equal(t, float64(1), summary["OCUPADO"])
	assert.Len(t, body["legend"], 4)

	w = e.do(t, http.MethodGet, "/api/lockers/board", "", nil)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	e.mirror.Remove(3)
	w = e.do(t, http.MethodGet, "/api/lockers/board", "", nil)
	assert.Empty(t, w.Header().Get("X-Cache"))
	assert.Len(t, decode(t, w)["buckets"], 1)
}

func TestCountAndGetLocker(t *testing.T) {
	e := newEnv(t, true, nil)

	w := e.do(t, http.MethodGet, "/api/lockers/count?status=LIBRE", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = e.do(t, http.MethodGet, "/api/lockers/2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "L2", body["code"])
	assert.Equal(t, "Ana Ruiz", body["occupant_name"])

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/lockers/99", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/lockers/abc", "", nil).Code)
}

func TestViewFlow(t *testing.T) {
	e := newEnv(t, true, nil)
	admin := token(t, "admin")

	w := e.do(t, http.MethodPost, "/api/views", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["view_id"].(string)
	base := "/api/views/" + id

	w = e.do(t, http.MethodPost, base+"/save", admin, board.DetailForm{OccupantName: "Jane Doe"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, base+"/select", "", gin.H{"id": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["enabled"])

	w = e.do(t, http.MethodPost, base+"/save", "", board.DetailForm{OccupantName: "Jane Doe"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(t, http.MethodPost, base+"/save", token(t, "viewer"), board.DetailForm{OccupantName: "Jane Doe"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, base+"/save", admin, board.DetailForm{OccupantName: "Jane Doe", Group: "LLENOS"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "OCUPADO", body["locker"].(map[string]any)["status"])
	assert.Equal(t, "info", body["message"].(map[string]any)["level"])
	patches := e.table.Patches()
	require.Len(t, patches, 1)
	assert.Equal(t, "OCUPADO", patches[0][model.ColEstado])
	assert.Equal(t, "Jane Doe", patches[0][model.ColColaboradorNombre])

	w = e.do(t, http.MethodPost, base+"/save", admin, board.DetailForm{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "warning", decode(t, w)["message"].(map[string]any)["level"])

	w = e.do(t, http.MethodPost, base+"/status", admin, gin.H{"status": "ROTO"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, base+"/release", admin, board.DetailForm{Notes: "devolvió llave"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "LIBRE", decode(t, w)["locker"].(map[string]any)["status"])

	w = e.do(t, http.MethodPut, base+"/filter", "", gin.H{"status": "LIBRE", "search": "l1"})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "LIBRE", body["filter"].(map[string]any)["status"])
	assert.Equal(t, "l1", body["filter"].(map[string]any)["search"])

	w = e.do(t, http.MethodPut, base+"/filter", "", gin.H{"search": "l"})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "LIBRE", body["filter"].(map[string]any)["status"])
	assert.Equal(t, "l", body["filter"].(map[string]any)["search"])

	w = e.do(t, http.MethodGet, base+"/detail", "", nil)
	assert.Equal(t, "devolvió llave", decode(t, w)["form"].(map[string]any)["notes"])

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, base+"/selection", "", nil).Code)
	w = e.do(t, http.MethodGet, base+"/detail", "", nil)
	assert.Equal(t, false, decode(t, w)["enabled"])

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, base+"/select", "", gin.H{"id": 42}).Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, base, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, base, "", nil).Code)
}

func TestRemoteFailureIsBadGateway(t *testing.T) {
	e := newEnv(t, true, nil)
	admin := token(t, "admin")
	id := decode(t, e.do(t, http.MethodPost, "/api/views", "", nil))["view_id"].(string)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/views/"+id+"/select", "", gin.H{"id": 1}).Code)

	e.table.UpdateErr = assert.AnError
	w := e.do(t, http.MethodPost, "/api/views/"+id+"/status", admin, gin.H{"status": "BLOQUEADO"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	rec, _ := e.mirror.Get(1)
	assert.Equal(t, locker.StatusFree, rec.Status)
}

func TestCreateLockers(t *testing.T) {
	e := newEnv(t, true, nil)
	admin := token(t, "admin")

	w := e.do(t, http.MethodPost, "/api/lockers", admin, gin.H{"codes": "L1-L4", "group": "EXTERNOS"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Len(t, body["created"], 2)
	assert.Equal(t, []any{"L1", "L2"}, body["skipped"])
	assert.Equal(t, 5, e.mirror.Len())

	w = e.do(t, http.MethodPost, "/api/lockers", admin, gin.H{"codes": "A1-B2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(t, http.MethodPost, "/api/lockers", admin, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportLockers(t *testing.T) {
	e := newEnv(t, true, nil)
	w := e.do(t, http.MethodGet, "/api/lockers/export.xlsx", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "casilleros-")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))
}

func TestUploadEvidence(t *testing.T) {
	e := newEnv(t, true, nil)

	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	require.NoError(t, mpw.WriteField("folder", "Penalidades/../x"))
	fw, err := mpw.CreateFormFile("file", "foto.JPG")
	require.NoError(t, err)
	fw.Write([]byte("\xff\xd8\xff\xe0 fake jpeg"))
	require.NoError(t, mpw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/evidence", &buf)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	req.Header.Set("Authorization", token(t, "supervisor"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	path := body["path"].(string)
	assert.True(t, strings.HasPrefix(path, "penalidadesx/"), path)
	assert.True(t, strings.HasSuffix(path, ".jpg"), path)
	assert.Equal(t, "https://cdn.example/evidencias/"+path, body["url"])
	assert.Equal(t, "image/jpeg", e.storage.types["evidencias/"+path])

	w = e.do(t, http.MethodPost, "/api/evidence", token(t, "admin"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriptions(t *testing.T) {
	e := newEnv(t, true, nil)
	endpoint := "https://push.example/send/abc%3D"

	w := e.do(t, http.MethodPut, "/api/subscriptions", "", gin.H{"endpoint": endpoint})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPut, "/api/subscriptions", "", gin.H{
		"endpoint": endpoint, "p256dh": "key", "auth": "secret", "subscribed_lockers": []int64{1, 3},
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, http.MethodGet, "/api/subscriptions?endpoint="+endpoint, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []any{float64(1), float64(3)}, decode(t, w)["subscribed_lockers"])

	w = e.do(t, http.MethodDelete, "/api/subscriptions", "", gin.H{"endpoint": endpoint})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, "/api/subscriptions?endpoint="+endpoint, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/subscriptions", "", nil).Code)
}

func TestVAPIDPublicKey(t *testing.T) {
	e := newEnv(t, true, nil)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/api/vapid_public_key", "", nil).Code)

	e = newEnv(t, true, &webpush.Options{VAPIDPublicKey: "pub", TTL: 60})
	w := e.do(t, http.MethodGet, "/api/vapid_public_key", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pub", decode(t, w)["public_key"])
}

func TestStreamEvents(t *testing.T) {
	e := newEnv(t, true, nil)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/lockers/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	waitFor := func(want string) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case l, ok := <-lines:
				require.True(t, ok, "stream closed before %q", want)
				if strings.HasPrefix(l, want) {
					return
				}
			case <-deadline:
				t.Fatalf("no %q line", want)
			}
		}
	}

	waitFor("event:sync")
	_, ok := e.mirror.Upsert(locker.Record{ID: 1, Code: "L1", Status: locker.StatusBlocked, Version: 9})
	require.True(t, ok)
	waitFor("event:update")
}
