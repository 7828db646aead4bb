package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/medprice/internal/browser"
	"github.com/JakeFAU/medprice/internal/history"
	"github.com/JakeFAU/medprice/internal/retrieval"
)

const maxBodyBytes = 1 << 20

// searchRequest accepts any JSON type for keyword so that a non-string
// keyword reports the keyword error rather than a decoding error.
type searchRequest struct {
	Keyword         any             `json:"keyword"`
	EnabledScrapers map[string]bool `json:"enabledScrapers"`
}

func (req searchRequest) keyword() string {
	s, _ := req.Keyword.(string)
	return s
}

func decodeSearch(w http.ResponseWriter, r *http.Request) (searchRequest, bool) {
	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return searchRequest{}, false
	}
	return req, true
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.browser == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	st := s.browser.Status()
	if st.State == browser.StateClosed.String() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "closing", "browser": st})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "browser": st})
}

func (s *Server) apiHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "env": s.env})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSearch(w, r)
	if !ok {
		return
	}
	resp, err := s.searcher.Search(r.Context(), req.keyword(), req.EnabledScrapers)
	if err != nil {
		s.writeSearchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) sourceSearch(w http.ResponseWriter, r *http.Request) {
	src, ok := retrieval.ParseSource(chi.URLParam(r, "source"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}
	s.sourceSearchFor(src)(w, r)
}

func (s *Server) sourceSearchFor(src retrieval.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSearch(w, r)
		if !ok {
			return
		}
		resp, err := s.searcher.SearchSource(r.Context(), src, req.keyword())
		if err != nil {
			s.writeSearchError(w, r, err)
			return
		}
		body, err := sourceEnvelope(src, resp)
		if err != nil {
			s.writeSearchError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// sourceEnvelope flattens a single source's result next to the search
// fields, e.g. {"success":true,"source":"pharmeasy","ok":true,"products":[...]}.
func sourceEnvelope(src retrieval.Source, resp retrieval.Response) (map[string]any, error) {
	res, ok := resp.Results[src]
	if !ok {
		return nil, fmt.Errorf("no result for %s", src)
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal %s result: %w", src, err)
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("flatten %s result: %w", src, err)
	}
	body["success"] = true
	body["source"] = string(src)
	body["searchId"] = resp.SearchID
	body["keyword"] = resp.Keyword
	body["durationMs"] = resp.Duration.Milliseconds()
	return body, nil
}

func (s *Server) writeSearchError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, retrieval.ErrInvalidKeyword):
		writeError(w, http.StatusBadRequest, retrieval.ErrInvalidKeyword.Error())
	case errors.Is(err, retrieval.ErrUnknownSource):
		writeError(w, http.StatusNotFound, "unknown source")
	default:
		s.logger.Error("search failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) searches(w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = history.ClampLimit(n)
	}
	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "searches": []history.Row{}})
		return
	}
	rows, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list searches failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list searches")
		return
	}
	if rows == nil {
		rows = []history.Row{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "searches": rows})
}

func (s *Server) browserStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.browser.Status())
}

func (s *Server) browserRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.browser.Reset(); err != nil {
		if errors.Is(err, browser.ErrClosed) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("browser restart requested", zap.String("request_id", requestID(r.Context())))
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "restarted", "browser": s.browser.Status()})
}
