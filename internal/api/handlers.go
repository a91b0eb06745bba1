// Package api exposes the notification endpoints and the operational
// dashboard over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mkaneko/worksync/internal/httputil"
	"github.com/mkaneko/worksync/internal/report"
	"github.com/mkaneko/worksync/internal/repository"
	"github.com/mkaneko/worksync/internal/supplement"
	"github.com/mkaneko/worksync/internal/tracker"
	"github.com/mkaneko/worksync/internal/work"
)

// SupplementNotifier delivers a supplement result. The email service
// implements it.
type SupplementNotifier interface {
	NotifySupplementResult(ctx context.Context, result supplement.Result) error
}

// ReportSender delivers a weekly health report.
type ReportSender interface {
	SendWeeklyReport(ctx context.Context, rep report.HealthReport) error
}

type API struct {
	notifier SupplementNotifier
	reports  ReportSender
	builder  *report.Builder
	tracker  *tracker.Tracker
	works    repository.WorkRepository
	mux      *http.ServeMux
}

// SupplementResultRequest mirrors the supplement result JSON. ExecutedAt is
// a pointer so a missing field is distinguishable from a zero time.
type SupplementResultRequest struct {
	ExecutedAt           *time.Time `json:"executedAt"`
	TotalProcessed       int        `json:"totalProcessed"`
	SuccessfulRecoveries int        `json:"successfulRecoveries"`
	RecoveryRate         float64    `json:"recoveryRate"`
}

func NewAPI(notifier SupplementNotifier, reports ReportSender, builder *report.Builder, tr *tracker.Tracker, works repository.WorkRepository) *API {
	api := &API{
		notifier: notifier,
		reports:  reports,
		builder:  builder,
		tracker:  tr,
		works:    works,
		mux:      http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/notifications/supplement", a.handleSupplementNotification)
	a.mux.HandleFunc("/api/reports/weekly", a.handleWeeklyReport)
	a.mux.HandleFunc("/api/dashboard/stats", a.handleDashboardStats)
	a.mux.HandleFunc("/api/works/", a.handleWorks)
	a.mux.HandleFunc("/health", a.handleHealth)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleSupplementNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Invalid request body", "SupplementResult format required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteJSONError(w, "Invalid request body", "SupplementResult format required", http.StatusBadRequest)
		return
	}
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Printf("failed to close request body: %v", err)
		}
	}()

	var req SupplementResultRequest
	if err := json.Unmarshal(body, &req); err != nil || req.ExecutedAt == nil {
		httputil.WriteJSONError(w, "Invalid request body", "SupplementResult format required", http.StatusBadRequest)
		return
	}

	result := supplement.Result{
		ExecutedAt:           *req.ExecutedAt,
		TotalProcessed:       req.TotalProcessed,
		SuccessfulRecoveries: req.SuccessfulRecoveries,
		RecoveryRate:         req.RecoveryRate,
	}

	if err := a.notifier.NotifySupplementResult(r.Context(), result); err != nil {
		log.Printf("failed to send supplement notification: %v", err)
		httputil.WriteJSONError(w, "Internal server error", "Failed to send supplement result notification", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSONSuccess(w, "Supplement result notification sent successfully", map[string]any{
		"notificationSent": true,
		"executedAt":       result.ExecutedAt,
		"recoveryRate":     result.RecoveryRate,
	})
}

func (a *API) handleWeeklyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", "POST required", http.StatusMethodNotAllowed)
		return
	}

	rep, err := a.builder.Weekly(r.Context())
	if err != nil {
		log.Printf("failed to build weekly report: %v", err)
		httputil.WriteJSONError(w, "Internal server error", "Failed to send weekly health report", http.StatusInternalServerError)
		return
	}

	if err := a.reports.SendWeeklyReport(r.Context(), rep); err != nil {
		log.Printf("failed to send weekly report: %v", err)
		httputil.WriteJSONError(w, "Internal server error", "Failed to send weekly health report", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSONSuccess(w, "Weekly health report sent successfully", map[string]any{
		"totalWorks":        rep.TotalWorks,
		"successRate":       rep.SuccessRate,
		"recoveredThisWeek": rep.RecoveredThisWeek,
		"stillFailingCount": rep.StillFailingCount,
		"topFailureReasons": rep.TopFailureReasons,
	})
}

func (a *API) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", "GET required", http.StatusMethodNotAllowed)
		return
	}

	stats, err := a.tracker.Statistics(r.Context())
	if err != nil {
		log.Printf("failed to load failure statistics: %v", err)
		httputil.WriteJSONError(w, "Internal server error", "Failed to load statistics", http.StatusInternalServerError)
		return
	}

	count, err := a.works.CountWorks(r.Context())
	if err != nil {
		log.Printf("failed to count works: %v", err)
		httputil.WriteJSONError(w, "Internal server error", "Failed to load statistics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"mirroredWorks": count,
		"failures":      stats,
	}); err != nil {
		log.Printf("failed to encode dashboard stats: %v", err)
	}
}

// WorkPatchRequest mirrors the mutable fields of a mirrored work. Pointer
// fields distinguish absent from zero.
type WorkPatchRequest struct {
	Title         *string   `json:"title"`
	Circle        *string   `json:"circle"`
	Genres        *[]string `json:"genres"`
	Price         *float64  `json:"price"`
	OfficialPrice *float64  `json:"officialPrice"`
	DiscountRate  *int      `json:"discountRate"`
	CampaignID    *int64    `json:"campaignId"`
	OnSale        *bool     `json:"onSale"`
}

func (req WorkPatchRequest) patch() work.Patch {
	var p work.Patch
	p.Title = req.Title
	p.Circle = req.Circle
	p.Genres = req.Genres
	if req.Price != nil {
		p.Price = &req.Price
	}
	if req.OfficialPrice != nil {
		p.OfficialPrice = &req.OfficialPrice
	}
	p.DiscountRate = req.DiscountRate
	if req.CampaignID != nil {
		p.CampaignID = &req.CampaignID
	}
	p.OnSale = req.OnSale
	return p
}

func (a *API) handleWorks(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/works/")

	if workID, ok := strings.CutSuffix(rest, "/history"); ok && !strings.Contains(workID, "/") && workID != "" {
		a.handleWorkHistory(w, r, workID)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		httputil.WriteJSONError(w, "Not found", "Work not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.handleGetWork(w, r, rest)
	case http.MethodPatch:
		a.handlePatchWork(w, r, rest)
	default:
		httputil.WriteJSONError(w, "Method not allowed", "GET or PATCH required", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleGetWork(w http.ResponseWriter, r *http.Request, workID string) {
	rec, err := a.works.GetWork(r.Context(), workID)
	if errors.Is(err, repository.ErrNotFound) {
		httputil.WriteJSONError(w, "Not found", "Work not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("failed to load work %s: %v", workID, err)
		httputil.WriteJSONError(w, "Internal server error", "Failed to load work", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		log.Printf("failed to encode work %s: %v", workID, err)
	}
}

func (a *API) handlePatchWork(w http.ResponseWriter, r *http.Request, workID string) {
	var req WorkPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSONError(w, "Invalid request body", "Work patch format required", http.StatusBadRequest)
		return
	}

	rec, err := a.works.GetWork(r.Context(), workID)
	if errors.Is(err, repository.ErrNotFound) {
		httputil.WriteJSONError(w, "Not found", "Work not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("failed to load work %s: %v", workID, err)
		httputil.WriteJSONError(w, "Internal server error", "Failed to update work", http.StatusInternalServerError)
		return
	}

	changed := req.patch().Apply(rec)
	if changed {
		now := time.Now().UTC()
		rec.UpdatedAt = &now
		if err := a.works.UpsertWork(r.Context(), rec); err != nil {
			log.Printf("failed to update work %s: %v", workID, err)
			httputil.WriteJSONError(w, "Internal server error", "Failed to update work", http.StatusInternalServerError)
			return
		}
	}

	httputil.WriteJSONSuccess(w, "Work updated successfully", map[string]any{
		"workId":  workID,
		"changed": changed,
	})
}

func (a *API) handleWorkHistory(w http.ResponseWriter, r *http.Request, workID string) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", "GET required", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httputil.WriteJSONError(w, "Invalid request body", "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	snaps, err := a.works.ListSnapshots(r.Context(), workID, limit)
	if err != nil {
		log.Printf("failed to load price history for %s: %v", workID, err)
		httputil.WriteJSONError(w, "Internal server error", "Failed to load price history", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []work.PriceSnapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"workId":  workID,
		"count":   len(snaps),
		"history": snaps,
	}); err != nil {
		log.Printf("failed to encode price history for %s: %v", workID, err)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
