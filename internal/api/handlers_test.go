package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkaneko/worksync/internal/report"
	"github.com/mkaneko/worksync/internal/repository"
	"github.com/mkaneko/worksync/internal/supplement"
	"github.com/mkaneko/worksync/internal/tracker"
	"github.com/mkaneko/worksync/internal/work"
)

type fakeNotifier struct {
	results []supplement.Result
	err     error
}

func (f *fakeNotifier) NotifySupplementResult(ctx context.Context, result supplement.Result) error {
	f.results = append(f.results, result)
	return f.err
}

type fakeReportSender struct {
	reports []report.HealthReport
	err     error
}

func (f *fakeReportSender) SendWeeklyReport(ctx context.Context, rep report.HealthReport) error {
	f.reports = append(f.reports, rep)
	return f.err
}

type testAPI struct {
	api      *API
	notifier *fakeNotifier
	reports  *fakeReportSender
	failures *repository.MockFailureRepository
	works    *repository.MockWorkRepository
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()

	notifier := &fakeNotifier{}
	reports := &fakeReportSender{}
	failures := repository.NewMockFailureRepository()
	works := repository.NewMockWorkRepository()
	tr := tracker.New(failures)

	return &testAPI{
		api:      NewAPI(notifier, reports, report.NewBuilder(tr), tr, works),
		notifier: notifier,
		reports:  reports,
		failures: failures,
		works:    works,
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSupplementNotification_Success(t *testing.T) {
	env := setupAPI(t)

	payload := `{
		"executedAt": "2025-06-01T12:00:00Z",
		"totalProcessed": 100,
		"successfulRecoveries": 85,
		"recoveryRate": 85.0
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/notifications/supplement", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Supplement result notification sent successfully", body["message"])

	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["notificationSent"])
	assert.Equal(t, 85.0, data["recoveryRate"])
	assert.NotEmpty(t, data["executedAt"])

	require.Len(t, env.notifier.results, 1)
	assert.Equal(t, 100, env.notifier.results[0].TotalProcessed)
}

func TestSupplementNotification_MissingExecutedAt(t *testing.T) {
	env := setupAPI(t)

	payload := `{"totalProcessed": 100, "successfulRecoveries": 85, "recoveryRate": 85.0}`
	req := httptest.NewRequest(http.MethodPost, "/api/notifications/supplement", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Invalid request body", body["error"])
	assert.Equal(t, "SupplementResult format required", body["message"])
	assert.Empty(t, env.notifier.results)
}

func TestSupplementNotification_WrongMethod(t *testing.T) {
	env := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications/supplement", nil)
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Invalid request body", body["error"])
	assert.Equal(t, "SupplementResult format required", body["message"])
}

func TestSupplementNotification_InvalidJSON(t *testing.T) {
	env := setupAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/supplement", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Invalid request body", body["error"])
}

func TestSupplementNotification_NotifierFailure(t *testing.T) {
	env := setupAPI(t)
	env.notifier.err = errors.New("sendgrid quota exceeded")

	payload := `{"executedAt": "2025-06-01T12:00:00Z", "totalProcessed": 10, "successfulRecoveries": 5, "recoveryRate": 50.0}`
	req := httptest.NewRequest(http.MethodPost, "/api/notifications/supplement", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Internal server error", body["error"])
	// The upstream error text never leaks.
	assert.NotContains(t, rec.Body.String(), "quota")
}

func TestWeeklyReport_Success(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	require.NoError(t, env.failures.RecordFailure(ctx, "RJ1", repository.ReasonTimeout, ""))
	require.NoError(t, env.failures.RecordFailure(ctx, "RJ2", repository.ReasonTimeout, ""))
	require.NoError(t, env.failures.RecordFailure(ctx, "RJ3", repository.ReasonAPIError, ""))
	require.NoError(t, env.failures.MarkRecovered(ctx, "RJ1"))

	req := httptest.NewRequest(http.MethodPost, "/api/reports/weekly", nil)
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Weekly health report sent successfully", body["message"])

	data := body["data"].(map[string]any)
	assert.Equal(t, 4.0, data["totalWorks"])
	assert.Equal(t, 2.0, data["stillFailingCount"])
	assert.Equal(t, 1.0, data["recoveredThisWeek"])
	require.NotEmpty(t, data["topFailureReasons"])

	require.Len(t, env.reports.reports, 1)
}

func TestWeeklyReport_SendFailure(t *testing.T) {
	env := setupAPI(t)
	env.reports.err = errors.New("smtp unreachable")

	req := httptest.NewRequest(http.MethodPost, "/api/reports/weekly", nil)
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Internal server error", body["error"])
	assert.Equal(t, "Failed to send weekly health report", body["message"])
	assert.NotContains(t, rec.Body.String(), "smtp")
}

func TestWeeklyReport_StatisticsFailure(t *testing.T) {
	env := setupAPI(t)
	env.failures.StatsError = errors.New("store offline")

	req := httptest.NewRequest(http.MethodPost, "/api/reports/weekly", nil)
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Failed to send weekly health report", body["message"])
	assert.Empty(t, env.reports.reports)
}

func TestDashboardStats(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	require.NoError(t, env.failures.RecordFailure(ctx, "RJ1", repository.ReasonTimeout, ""))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil)
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 0.0, body["mirroredWorks"])

	failures := body["failures"].(map[string]any)
	assert.Equal(t, 1.0, failures["total_failed_works"])
}

func TestHealth(t *testing.T) {
	env := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func seedWork(t *testing.T, env *testAPI, id string) {
	t.Helper()

	price := 1000.0
	require.NoError(t, env.works.UpsertWork(context.Background(), &work.Record{
		ID:     id,
		Title:  "Sample Work",
		Circle: "Sample Circle",
		Genres: []string{"voice"},
		Price:  &price,
	}))
}

func TestGetWork(t *testing.T) {
	env := setupAPI(t)
	seedWork(t, env, "RJ00000001")

	req := httptest.NewRequest(http.MethodGet, "/api/works/RJ00000001", nil)
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "RJ00000001", body["id"])
	assert.Equal(t, "Sample Work", body["title"])
}

func TestGetWork_NotFound(t *testing.T) {
	env := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/works/RJ99999999", nil)
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Not found", body["error"])
	assert.Equal(t, "Work not found", body["message"])
}

func TestPatchWork(t *testing.T) {
	env := setupAPI(t)
	seedWork(t, env, "RJ00000001")

	payload := `{"price": 880, "discountRate": 12, "onSale": true}`
	req := httptest.NewRequest(http.MethodPatch, "/api/works/RJ00000001", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["changed"])

	updated, err := env.works.GetWork(context.Background(), "RJ00000001")
	require.NoError(t, err)
	require.NotNil(t, updated.Price)
	assert.Equal(t, 880.0, *updated.Price)
	assert.Equal(t, 12, updated.DiscountRate)
	assert.True(t, updated.OnSale)
	assert.Equal(t, "Sample Work", updated.Title)
	require.NotNil(t, updated.UpdatedAt)
}

func TestPatchWork_EmptyPatchWritesNothing(t *testing.T) {
	env := setupAPI(t)
	seedWork(t, env, "RJ00000001")
	seeded := len(env.works.UpsertWorkCalls)

	req := httptest.NewRequest(http.MethodPatch, "/api/works/RJ00000001", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, false, data["changed"])
	assert.Len(t, env.works.UpsertWorkCalls, seeded)
}

func TestPatchWork_InvalidJSON(t *testing.T) {
	env := setupAPI(t)
	seedWork(t, env, "RJ00000001")

	req := httptest.NewRequest(http.MethodPatch, "/api/works/RJ00000001", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeBody(t, rec)["error"])
}

func TestWorkHistory(t *testing.T) {
	env := setupAPI(t)
	seedWork(t, env, "RJ00000001")

	ctx := context.Background()
	price := 1000.0
	for _, date := range []string{"2025-06-01", "2025-06-02", "2025-06-03"} {
		require.NoError(t, env.works.UpsertSnapshot(ctx, &work.PriceSnapshot{
			WorkID: "RJ00000001",
			Date:   date,
			Price:  &price,
		}))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/works/RJ00000001/history?limit=2", nil)
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 2.0, body["count"])

	history := body["history"].([]any)
	require.Len(t, history, 2)
	first := history[0].(map[string]any)
	assert.Equal(t, "2025-06-03", first["date"])
}

func TestWorkHistory_Empty(t *testing.T) {
	env := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/works/RJ00000001/history", nil)
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 0.0, body["count"])
	assert.Empty(t, body["history"])
}

func TestWorkHistory_BadLimit(t *testing.T) {
	env := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/works/RJ00000001/history?limit=abc", nil)
	rec := httptest.NewRecorder()

	env.api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
