package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/hitoshi/venuestatus/internal/middleware"
	"github.com/hitoshi/venuestatus/internal/model"
)

// --- モック定義 ---

// mockStatusService はStatusServiceInterfaceのモック実装。
type mockStatusService struct {
	queryStatusFn     func(ctx context.Context) model.StatusResult
	forceRefreshFn    func(ctx context.Context) (model.DateSet, time.Time, error)
	recentRefreshesFn func(ctx context.Context, limit int) ([]model.RefreshRun, error)
}

func (m *mockStatusService) QueryStatus(ctx context.Context) model.StatusResult {
	if m.queryStatusFn != nil {
		return m.queryStatusFn(ctx)
	}
	return model.StatusResult{}
}

func (m *mockStatusService) ForceRefresh(ctx context.Context) (model.DateSet, time.Time, error) {
	if m.forceRefreshFn != nil {
		return m.forceRefreshFn(ctx)
	}
	return model.NewDateSet(), time.Time{}, nil
}

func (m *mockStatusService) RecentRefreshes(ctx context.Context, limit int) ([]model.RefreshRun, error) {
	if m.recentRefreshesFn != nil {
		return m.recentRefreshesFn(ctx, limit)
	}
	return nil, nil
}

// --- テストヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func mustDate(t *testing.T, s string) model.CalendarDate {
	t.Helper()
	d, err := model.ParseCalendarDate(s)
	if err != nil {
		t.Fatalf("invalid date %q: %v", s, err)
	}
	return d
}

var berlin = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		panic(err)
	}
	return loc
}()

func closedResult(t *testing.T) model.StatusResult {
	return model.StatusResult{
		IsOpen:             false,
		Message:            "Heute ist geschlossene Gesellschaft",
		Day:                "Freitag",
		UpcomingExceptions: []model.CalendarDate{mustDate(t, "2025-06-13"), mustDate(t, "2025-06-20")},
		LastUpdate:         time.Date(2025, 6, 13, 8, 0, 0, 0, time.UTC),
	}
}

func newTestStatusHandler(svc StatusServiceInterface, historyEnabled bool) *StatusHandler {
	var buf bytes.Buffer
	return NewStatusHandler(svc, StatusHandlerConfig{
		VenueName:      "Nippes",
		OpeningDays:    "Mittwoch bis Samstag",
		Location:       berlin,
		HistoryEnabled: historyEnabled,
		Logger:         newTestLogger(&buf),
	})
}

// --- Index ---

func TestIndex_RendersClosedStatus(t *testing.T) {
	svc := &mockStatusService{
		queryStatusFn: func(ctx context.Context) model.StatusResult { return closedResult(t) },
	}
	h := newTestStatusHandler(svc, false)

	w := httptest.NewRecorder()
	h.Index(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	body := w.Body.String()
	for _, want := range []string{
		"Ist das Nippes heute offen?",
		"Heute ist geschlossene Gesellschaft",
		`class="status closed"`,
		"Heute ist Freitag",
		"Mittwoch bis Samstag",
		"13.06.2025",
		"20.06.2025",
		// 08:00 UTC = 10:00 MESZ
		"Letzte Aktualisierung: 13.06.2025 10:00",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body does not contain %q", want)
		}
	}
}

func TestIndex_EscapesMessage(t *testing.T) {
	svc := &mockStatusService{
		queryStatusFn: func(ctx context.Context) model.StatusResult {
			return model.StatusResult{IsOpen: true, Message: "<script>alert(1)</script>", Day: "Mittwoch"}
		},
	}
	h := newTestStatusHandler(svc, false)

	w := httptest.NewRecorder()
	h.Index(w, httptest.NewRequest(http.MethodGet, "/", nil))

	body := w.Body.String()
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("message should be HTML-escaped")
	}
	if strings.Contains(body, "Letzte Aktualisierung") {
		t.Error("last update should be omitted when unknown")
	}
	if !strings.Contains(body, `class="status open"`) {
		t.Error("open status should be rendered")
	}
}

// --- Refresh ---

func TestRefresh_Success(t *testing.T) {
	svc := &mockStatusService{
		forceRefreshFn: func(ctx context.Context) (model.DateSet, time.Time, error) {
			return model.NewDateSet(mustDate(t, "2025-06-13"), mustDate(t, "2025-06-20")), time.Now(), nil
		},
	}
	h := newTestStatusHandler(svc, false)
	h.now = func() time.Time { return time.Date(2025, 6, 13, 8, 0, 0, 0, time.UTC) }

	w := httptest.NewRecorder()
	h.Refresh(w, httptest.NewRequest(http.MethodGet, "/refresh", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp refreshResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Status != "success" {
		t.Errorf("status = %q, want %q", resp.Status, "success")
	}
	if resp.Message != "Cache aktualisiert. 2 geschlossene Termine gefunden." {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.Timestamp != "2025-06-13T10:00:00+02:00" {
		t.Errorf("timestamp = %q, want %q", resp.Timestamp, "2025-06-13T10:00:00+02:00")
	}
}

func TestRefresh_Failure_Returns500(t *testing.T) {
	svc := &mockStatusService{
		forceRefreshFn: func(ctx context.Context) (model.DateSet, time.Time, error) {
			return nil, time.Time{}, errors.New("connection refused")
		},
	}
	h := newTestStatusHandler(svc, false)

	w := httptest.NewRecorder()
	h.Refresh(w, httptest.NewRequest(http.MethodGet, "/refresh", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var raw map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if raw["status"] != "error" {
		t.Errorf("status = %v, want error", raw["status"])
	}
	if raw["message"] != "Fehler beim Aktualisieren: connection refused" {
		t.Errorf("message = %v", raw["message"])
	}
	if _, ok := raw["timestamp"]; ok {
		t.Error("timestamp should be omitted on error")
	}
}

// --- APIStatus ---

func TestAPIStatus_ReturnsJSON(t *testing.T) {
	svc := &mockStatusService{
		queryStatusFn: func(ctx context.Context) model.StatusResult { return closedResult(t) },
	}
	h := newTestStatusHandler(svc, false)

	w := httptest.NewRecorder()
	h.APIStatus(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp statusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.IsOpen {
		t.Error("is_open should be false")
	}
	if resp.Day != "Freitag" {
		t.Errorf("day = %q, want %q", resp.Day, "Freitag")
	}
	if len(resp.UpcomingClosed) != 2 || resp.UpcomingClosed[0] != "2025-06-13" {
		t.Errorf("upcoming_closed = %v", resp.UpcomingClosed)
	}
	if resp.LastUpdate != "2025-06-13T10:00:00+02:00" {
		t.Errorf("last_update = %q", resp.LastUpdate)
	}
}

func TestAPIStatus_EmptyUpcomingIsArray(t *testing.T) {
	svc := &mockStatusService{
		queryStatusFn: func(ctx context.Context) model.StatusResult {
			return model.StatusResult{Message: "Status derzeit nicht verfügbar", Day: "Montag"}
		},
	}
	h := newTestStatusHandler(svc, false)

	w := httptest.NewRecorder()
	h.APIStatus(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if !strings.Contains(w.Body.String(), `"upcoming_closed":[]`) {
		t.Errorf("upcoming_closed should encode as empty array, got %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), `"last_update"`) {
		t.Errorf("last_update should be omitted when unknown, got %s", w.Body.String())
	}
}

// --- ListRefreshes ---

func TestListRefreshes_HistoryDisabled_Returns503(t *testing.T) {
	h := newTestStatusHandler(&mockStatusService{}, false)

	w := httptest.NewRecorder()
	h.ListRefreshes(w, httptest.NewRequest(http.MethodGet, "/api/refreshes", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeHistoryDisabled {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeHistoryDisabled)
	}
}

func TestListRefreshes_ReturnsRecentRuns(t *testing.T) {
	var gotLimit int
	svc := &mockStatusService{
		recentRefreshesFn: func(ctx context.Context, limit int) ([]model.RefreshRun, error) {
			gotLimit = limit
			return []model.RefreshRun{
				{
					ID:           "run-2",
					StartedAt:    time.Date(2025, 6, 13, 8, 0, 0, 0, time.UTC),
					Duration:     1500 * time.Millisecond,
					Trigger:      model.RefreshTriggerForced,
					Success:      false,
					ErrorMessage: "timeout",
				},
				{
					ID:        "run-1",
					StartedAt: time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC),
					Duration:  200 * time.Millisecond,
					Trigger:   model.RefreshTriggerCacheMiss,
					Success:   true,
					DateCount: 4,
				},
			}, nil
		},
	}
	h := newTestStatusHandler(svc, true)

	w := httptest.NewRecorder()
	h.ListRefreshes(w, httptest.NewRequest(http.MethodGet, "/api/refreshes", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotLimit != RecentRefreshLimit {
		t.Errorf("limit = %d, want %d", gotLimit, RecentRefreshLimit)
	}
	var resp []refreshRunResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("len = %d, want 2", len(resp))
	}
	if resp[0].ID != "run-2" || resp[0].DurationMs != 1500 || resp[0].Trigger != "forced" || resp[0].ErrorMessage != "timeout" {
		t.Errorf("first run = %+v", resp[0])
	}
	if resp[1].DateCount != 4 || !resp[1].Success {
		t.Errorf("second run = %+v", resp[1])
	}
}

func TestListRefreshes_RepositoryError_Returns500(t *testing.T) {
	svc := &mockStatusService{
		recentRefreshesFn: func(ctx context.Context, limit int) ([]model.RefreshRun, error) {
			return nil, errors.New("db down")
		},
	}
	h := newTestStatusHandler(svc, true)

	w := httptest.NewRecorder()
	h.ListRefreshes(w, httptest.NewRequest(http.MethodGet, "/api/refreshes", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestHealth_ReturnsOK(t *testing.T) {
	w := httptest.NewRecorder()
	Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", w.Body.String(), "ok")
	}
}
