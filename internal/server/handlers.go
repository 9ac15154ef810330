package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FranksOps/vaxscrape/internal/agent"
	"github.com/FranksOps/vaxscrape/internal/pipeline"
	"github.com/FranksOps/vaxscrape/internal/report"
	"github.com/FranksOps/vaxscrape/internal/serp"
	"github.com/FranksOps/vaxscrape/internal/storage"
	"github.com/FranksOps/vaxscrape/internal/storage/csvbackend"
	"github.com/FranksOps/vaxscrape/internal/storage/jsonbackend"
)

const maxAgentBody = 1 << 20

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Vaccine Sentiment Scraper API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.cfg.Version,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Runner.Stats())
}

type scrapeResponse struct {
	Status           string              `json:"status"`
	RunID            string              `json:"run_id"`
	TotalRecords     int                 `json:"total_records"`
	QueriesProcessed int                 `json:"queries_processed"`
	Batches          []string            `json:"batches"`
	Errors           []pipeline.RunError `json:"errors"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := pipeline.Options{NumQueries: 1, SearchDepth: serp.DepthAdvanced}
	if v := q.Get("num_queries"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("num_queries must be a positive integer, got %q", v))
			return
		}
		opts.NumQueries = n
	}
	if v := q.Get("search_depth"); v != "" {
		d, err := serp.ParseDepth(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.SearchDepth = d
	}
	async, _ := strconv.ParseBool(q.Get("async"))

	if async {
		runID, err := s.cfg.Runner.StartAsync(s.cfg.BaseContext, opts)
		if err != nil {
			s.writeStartError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "run_id": runID})
		return
	}

	sum, err := s.cfg.Runner.Start(r.Context(), opts)
	if err != nil {
		s.writeStartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{
		Status:           sum.Status,
		RunID:            sum.RunID,
		TotalRecords:     sum.TotalRecords,
		QueriesProcessed: sum.QueriesProcessed,
		Batches:          sum.Batches,
		Errors:           sum.Errors,
	})
}

func (s *Server) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		writeError(w, http.StatusBadRequest, "Scraping process already running")
	case errors.Is(err, pipeline.ErrInvalidOptions):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("scrape failed", "err", err)
		writeFailure(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	names, err := storage.ListBatches(s.cfg.ResultsDir, s.cfg.MasterFile, csvbackend.Ext, jsonbackend.Ext)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": names})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if name == s.cfg.MasterFile {
		writeError(w, http.StatusNotFound, fmt.Sprintf("File not found: %s", name))
		return
	}
	path, err := storage.ResolveBatchPath(s.cfg.ResultsDir, name)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("File not found or error reading file: %s", name))
		return
	}

	var entries []*storage.Entry
	switch strings.TrimPrefix(filepath.Ext(name), ".") {
	case csvbackend.Ext:
		entries, err = csvbackend.ReadBatch(path)
	case jsonbackend.Ext:
		entries, err = jsonbackend.ReadBatch(path)
	default:
		err = fmt.Errorf("unsupported file type")
	}
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("File not found or error reading file: %s: %v", name, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDatabase(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.Filter{
		URL:   q.Get("url"),
		Topic: q.Get("topic"),
		Query: q.Get("query"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset: "+err.Error())
		return
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.Since = &t
	}
	switch q.Get("order") {
	case "", "asc":
	case "desc":
		filter.Desc = true
	default:
		writeError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	entries := s.cfg.Store.Query(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   s.cfg.Store.Len(),
		"count":   len(entries),
		"records": entries,
	})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer, got %q", v)
	}
	return n, nil
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := storage.Filter{Topic: r.URL.Query().Get("topic")}
	summary := report.GenerateSummary(s.cfg.Store.Query(filter), 0)

	w.Header().Set("Content-Type", format.ContentType())
	if err := report.Write(w, format, summary); err != nil {
		s.logger.Error("writing report", "err", err)
	}
}

func (s *Server) agentHandler(okStatus string, get func() AgentHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := get()
		if h == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "message": "agent not configured"})
			return
		}

		var env agent.Envelope
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAgentBody)).Decode(&env); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid envelope: " + err.Error()})
			return
		}

		if err := h.Handle(r.Context(), env); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, agent.ErrBadRequest) {
				status = http.StatusBadRequest
			}
			s.logger.Error("agent webhook failed", "path", r.URL.Path, "err", err)
			writeJSON(w, status, map[string]string{"status": "error", "message": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": okStatus})
	}
}
