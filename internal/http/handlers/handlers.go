package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ticketmatch/backend/internal/db"
	"github.com/ticketmatch/backend/internal/ingest"
	"github.com/ticketmatch/backend/internal/matching"
	"github.com/ticketmatch/backend/internal/models"
	"github.com/ticketmatch/backend/internal/service"
)

type Handler struct {
	Store     *db.Store
	Processor *service.ProcessingService
	Validator *validator.Validate
	Logger    zerolog.Logger
	AdminKey  string
}

type tableSummary struct {
	Parsed   int `json:"parsed"`
	Inserted int `json:"inserted"`
	Errors   int `json:"errors"`
}

type ImportSummary struct {
	Tickets     tableSummary         `json:"tickets"`
	Ambassadors tableSummary         `json:"ambassadors"`
	Shifts      tableSummary         `json:"shifts"`
	Enriched    *service.EnrichStats `json:"enriched,omitempty"`
	Errors      []string             `json:"errors"`
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Import CSV data
// @Description Upload tickets, ambassadors and shifts CSV files. Existing data is replaced in one transaction. When ticket analysis is enabled, tickets without urgency or primary product are filled in first.
// @Tags import
// @Accept multipart/form-data
// @Produce json
// @Param tickets formData file true "tickets.csv"
// @Param ambassadors formData file true "ambassadors.csv"
// @Param shifts formData file true "shifts.csv"
// @Success 200 {object} ImportSummary
// @Failure 400 {object} map[string]any
// @Router /api/import [post]
func (h *Handler) Import(c *gin.Context) {
	files := map[string]*multipart.FileHeader{}
	for _, field := range []string{"tickets", "ambassadors", "shifts"} {
		fh, err := c.FormFile(field)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", field+" file required", nil)
			return
		}
		if !validateExt(fh.Filename) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "all files must be .csv", nil)
			return
		}
		files[field] = fh
	}

	summary := ImportSummary{Errors: []string{}}

	tickets, errs := readUpload(files["tickets"], ingest.ParseTickets)
	errs = append(errs, duplicateTickets(tickets)...)
	summary.Tickets.Parsed = len(tickets)
	summary.Tickets.Errors = len(errs)
	summary.Errors = append(summary.Errors, errs...)

	ambassadors, errs := readUpload(files["ambassadors"], ingest.ParseAmbassadors)
	errs = append(errs, duplicateAmbassadors(ambassadors)...)
	summary.Ambassadors.Parsed = len(ambassadors)
	summary.Ambassadors.Errors = len(errs)
	summary.Errors = append(summary.Errors, errs...)

	shifts, errs := readUpload(files["shifts"], ingest.ParseShifts)
	summary.Shifts.Parsed = len(shifts)
	summary.Shifts.Errors = len(errs)
	summary.Errors = append(summary.Errors, errs...)

	if len(summary.Errors) > 0 {
		writeError(c, http.StatusBadRequest, "CSV_PARSE_ERROR", "CSV validation errors", summary.Errors)
		return
	}

	ctx := c.Request.Context()
	summary.Enriched = h.Processor.EnrichTickets(ctx, tickets)

	counts, err := h.Store.ReplaceData(ctx, tickets, ambassadors, shifts)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to import data", err.Error())
		return
	}
	summary.Tickets.Inserted = int(counts.Tickets)
	summary.Ambassadors.Inserted = int(counts.Ambassadors)
	summary.Shifts.Inserted = int(counts.Shifts)

	h.Logger.Info().
		Int("tickets", summary.Tickets.Inserted).
		Int("ambassadors", summary.Ambassadors.Inserted).
		Int("shifts", summary.Shifts.Inserted).
		Msg("import complete")
	c.JSON(http.StatusOK, summary)
}

type ProcessRequest struct {
	Strategy string `json:"strategy" validate:"omitempty,oneof=score llm"`
	At       string `json:"at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Debug    bool   `json:"debug"`
}

// @Summary Run an assignment pass
// @Tags process
// @Accept json
// @Produce json
// @Param request body ProcessRequest false "pass options"
// @Success 200 {object} service.RunSummary
// @Failure 400 {object} map[string]any
// @Router /api/process [post]
func (h *Handler) Process(c *gin.Context) {
	req, ok := h.bindProcessRequest(c)
	if !ok {
		return
	}

	opts := service.ProcessOptions{Strategy: req.Strategy, Debug: req.Debug}
	if req.At != "" {
		at, _ := time.Parse(time.RFC3339, req.At)
		opts.At = at
	}

	summary, err := h.Processor.ProcessTickets(c.Request.Context(), opts)
	if errors.Is(err, service.ErrStrategyUnavailable) {
		writeError(c, http.StatusBadRequest, "STRATEGY_UNAVAILABLE", "Requested strategy is not configured", req.Strategy)
		return
	}
	if err != nil {
		h.Logger.Error().Err(err).Msg("processing failed")
		writeError(c, http.StatusInternalServerError, "PROCESSING_ERROR", "Processing failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) bindProcessRequest(c *gin.Context) (ProcessRequest, bool) {
	var req ProcessRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
			return req, false
		}
	}
	if debug := c.Query("debug"); debug == "1" || strings.EqualFold(debug, "true") {
		req.Debug = true
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return req, false
	}
	return req, true
}

// @Summary Latest run
// @Tags runs
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/runs/latest [get]
func (h *Handler) RunsLatest(c *gin.Context) {
	result, err := h.Store.GetLatestRun(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "No runs found", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) TicketsList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	filter := db.TicketFilter{
		Status: strings.TrimSpace(c.Query("status")),
		Query:  strings.TrimSpace(c.Query("q")),
		Limit:  limit,
		Offset: offset,
	}

	items, err := h.Store.ListTickets(c.Request.Context(), filter)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list tickets", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

func (h *Handler) TicketDetails(c *gin.Context) {
	id := c.Param("id")
	result, err := h.Store.GetTicketDetails(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get ticket", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) AmbassadorsList(c *gin.Context) {
	lob := strings.TrimSpace(c.Query("lob"))
	language := models.NormalizeLanguage(c.Query("language"))
	items, err := h.Store.ListAmbassadors(c.Request.Context(), lob, language)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list ambassadors", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Debug candidate scores
// @Description Score every ambassador against one ticket without assigning anything
// @Tags debug
// @Produce json
// @Param ticket_id query string true "Ticket ID"
// @Param at query string false "Evaluation time, RFC3339"
// @Success 200 {object} matching.Breakdown
// @Router /api/debug/candidates [get]
func (h *Handler) DebugCandidates(c *gin.Context) {
	ticketID := strings.TrimSpace(c.Query("ticket_id"))
	if ticketID == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "ticket_id is required", nil)
		return
	}
	var at time.Time
	if raw := strings.TrimSpace(c.Query("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "at must be RFC3339", raw)
			return
		}
		at = parsed
	}

	breakdown, err := h.Processor.ExplainTicket(c.Request.Context(), ticketID, at)
	if err != nil {
		if errors.Is(err, matching.ErrUnknownTicket) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load snapshot", err.Error())
		return
	}
	c.JSON(http.StatusOK, breakdown)
}

// @Summary Release a ticket
// @Description Close an assigned ticket and give the ambassador's slot back
// @Tags tickets
// @Produce json
// @Param id path string true "Ticket ID"
// @Success 200 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/tickets/{id}/release [post]
func (h *Handler) ReleaseTicket(c *gin.Context) {
	id := c.Param("id")
	ambassadorID, err := h.Store.ReleaseTicket(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotAssigned) {
			writeError(c, http.StatusConflict, "NOT_ASSIGNED", "Ticket has no active assignment", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to release ticket", err.Error())
		return
	}
	h.Logger.Info().Str("ticket_id", id).Str("ambassador_id", ambassadorID).Msg("ticket released")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ambassador_id": ambassadorID})
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func readUpload[T any](file *multipart.FileHeader, parse func(io.Reader) ([]T, []string)) ([]T, []string) {
	f, err := file.Open()
	if err != nil {
		return nil, []string{err.Error()}
	}
	defer f.Close()
	return parse(f)
}

func duplicateTickets(tickets []models.Ticket) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range tickets {
		if seen[t.CaseNumber] {
			out = append(out, fmt.Sprintf("tickets: duplicate case number %q", t.CaseNumber))
			continue
		}
		seen[t.CaseNumber] = true
	}
	return out
}

func duplicateAmbassadors(ambassadors []models.Ambassador) []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range ambassadors {
		if seen[a.ID] {
			out = append(out, fmt.Sprintf("ambassadors: duplicate id %q", a.ID))
			continue
		}
		seen[a.ID] = true
	}
	return out
}

func validateExt(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}
