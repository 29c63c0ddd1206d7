// Package web provides the read-only HTTP interface: a status page, status
// JSON, record queries and daily statistics.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sweeney/greenhouse-controller/internal/datalog"
	"github.com/sweeney/greenhouse-controller/internal/status"
)

const (
	defaultRecordLimit = 100
	maxRecordLimit     = 1000
	dateLayout         = "2006-01-02"
)

// Backend answers log queries. The daemon implements it by running the
// query inside the control loop.
type Backend interface {
	Query(q datalog.Query) ([]datalog.Record, error)
	DailyStats(day time.Time) (datalog.DailyStats, error)
}

// Server serves the status page and log API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	backend    Backend
	loc        *time.Location
}

// New creates a Server. Dates in /stats are interpreted in loc.
func New(addr string, tracker *status.Tracker, backend Backend, loc *time.Location) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{tracker: tracker, backend: backend, loc: loc}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/index.html", s.handleIndex).Methods("GET")
	r.HandleFunc("/index.json", s.handleJSON).Methods("GET")
	r.HandleFunc("/records", s.handleRecords).Methods("GET")
	r.HandleFunc("/stats/{date}", s.handleStats).Methods("GET")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handlers.LoggingHandler(log.Writer(), r),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.tracker.Snapshot()); err != nil {
		log.Printf("web: render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorJSON{Error: msg})
}

// parseTime accepts RFC 3339 or Unix seconds.
func parseTime(v string) (time.Time, error) {
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := datalog.Query{Max: defaultRecordLimit}

	if v := params.Get("start"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start: "+v)
			return
		}
		q.Start = t
	}
	if v := params.Get("end"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end: "+v)
			return
		}
		q.End = t
	}
	if v := params.Get("type"); v != "" {
		typ, err := datalog.ParseType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		q.Type = typ
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+v)
			return
		}
		if n > maxRecordLimit {
			n = maxRecordLimit
		}
		q.Max = n
	}

	recs, err := s.backend.Query(q)
	if err != nil {
		log.Printf("web: query records: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, formatRecords(recs))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	day, err := time.ParseInLocation(dateLayout, date, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date: "+date)
		return
	}

	stats, err := s.backend.DailyStats(day)
	if err != nil {
		log.Printf("web: daily stats: %v", err)
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, formatStats(date, stats))
}
