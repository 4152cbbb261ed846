package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"timetablecal/internal/config"
	"timetablecal/internal/extract"
	"timetablecal/internal/ics"
	appLog "timetablecal/internal/log"
	"timetablecal/internal/model"
	"timetablecal/internal/session"
)

const sessionCookie = "timetablecal_session"

// Server provides the timetable web UI and its JSON API.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux
	loc *time.Location

	sessions  *session.Store
	extractor extract.Extractor
	generator *ics.Generator
	now       func() time.Time
}

// Deps are the collaborators a Server needs. Extractor may be nil when no
// provider is configured; uploads then fail with a configuration error.
type Deps struct {
	Sessions  *session.Store
	Extractor extract.Extractor
	Location  *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// embeddedStatic contains the single-page UI.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		loc:       deps.Location,
		sessions:  deps.Sessions,
		extractor: deps.Extractor,
		now:       deps.Now,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sessions == nil {
		s.sessions = session.NewStore(cfg.Session.TTL())
	}
	s.generator = &ics.Generator{
		CalendarName: cfg.Calendar.Name,
		Location:     s.loc,
		Now:          s.now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Timetable", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves s on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func Run(ctx context.Context, s *Server) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/state", s.withSession(s.handleState))
	s.mux.HandleFunc("POST /api/upload_and_analyze", s.withSession(s.handleUploadAndAnalyze))
	s.mux.HandleFunc("POST /api/update_data", s.withSession(s.handleUpdateData))
	s.mux.HandleFunc("POST /api/import_ics", s.withSession(s.handleImportICS))
	s.mux.HandleFunc("GET /api/preview", s.withSession(s.handlePreview))
	s.mux.HandleFunc("GET /download_ics", s.withSession(s.handleDownloadICS))

	s.mux.HandleFunc("GET /about", s.handleAbout)
	// All remaining paths fall back to the embedded UI.
	s.mux.Handle("/", s.staticFileServer())
}

// sessionHandler receives the caller's session explicitly.
type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// withSession resolves the session cookie (issuing a new one when needed)
// and hands the session to next.
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(sessionCookie); err == nil {
			id = c.Value
		}
		sess := s.sessions.Load(id)
		if sess.ID != id {
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sess.ID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next(w, r, sess)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) staticFS() (fs.FS, error) {
	return fs.Sub(embeddedStatic, "static")
}

// staticFileServer serves the embedded UI from internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := s.staticFS()
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Never answer /api/* with HTML.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			writeError(w, http.StatusNotFound, "Not found.")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	sub, err := s.staticFS()
	if err != nil {
		http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		return
	}
	http.ServeFileFS(w, r, sub, "about.html")
}

// apiResponse is the JSON shape shared by the workflow endpoints.
type apiResponse struct {
	Success       bool          `json:"success"`
	Message       string        `json:"message,omitempty"`
	TimetableData []model.Entry `json:"timetableData,omitempty"`
	CurrentStep   int           `json:"currentStep,omitempty"`
	Skipped       []ics.Skipped `json:"skipped,omitempty"`
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Success: false, Message: msg})
}
