package apiapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phillip-england/badgephoto/internal/envutil"
	"github.com/phillip-england/badgephoto/internal/logging"
	"github.com/phillip-england/badgephoto/internal/matte"
	"github.com/phillip-england/badgephoto/internal/middleware"
	"github.com/phillip-england/badgephoto/internal/slot"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Addr           string
	DBPath         string
	MaxUploadBytes int64
	AllowedOrigins []string
	Logger         *logrus.Logger
}

type server struct {
	store          *badgeStore
	display        *slot.Slot
	maxUploadBytes int64
	log            logrus.FieldLogger
	upgrader       websocket.Upgrader
}

func DefaultConfigFromEnv() Config {
	return Config{
		Addr:           envutil.OrDefault("API_ADDR", ":8080"),
		DBPath:         envutil.OrDefault("BADGE_DB_PATH", "data.db"),
		MaxUploadBytes: envutil.Int64OrDefault("MAX_UPLOAD_BYTES", matte.MaxSourceBytes),
		AllowedOrigins: envutil.List("API_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}
}

func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.FromEnv()
	}

	store, err := openBadgeStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open badge store: %w", err)
	}
	defer store.Close()

	s := newServer(store, slot.New(), cfg, logger.WithField("app", "api"))

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("api listening on http://localhost%s", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newServer(store *badgeStore, display *slot.Slot, cfg Config, logger logrus.FieldLogger) *server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 || maxUpload > matte.MaxSourceBytes {
		maxUpload = matte.MaxSourceBytes
	}
	s := &server{
		store:          store,
		display:        display,
		maxUploadBytes: maxUpload,
		log:            logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 << 10,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/health", http.HandlerFunc(s.health))
	mux.Handle("/api/thumbnails", http.HandlerFunc(s.createThumbnail))
	mux.Handle("/api/thumbnails/current", http.HandlerFunc(s.currentThumbnail))
	mux.Handle("/api/thumbnails/stream", http.HandlerFunc(s.thumbnailStream))
	mux.Handle("/api/badges", http.HandlerFunc(s.listBadges))
	mux.Handle("/api/badges/", http.HandlerFunc(s.badgeByNameHandler))

	csp := strings.Join([]string{
		"default-src 'none'",
		"img-src 'self' data:",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		mux,
		middleware.RequestLogger(s.log),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) createThumbnail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, err := s.readUpload(r)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	result, err := matte.Process(raw)
	if err != nil {
		s.log.WithError(err).Warn("thumbnail pipeline rejected upload")
		writeError(w, statusForError(err), err.Error())
		return
	}
	entry := s.display.Set(result)
	s.logResult(entry.Generation, "", result)
	writeJSON(w, http.StatusOK, entry)
}

func (s *server) currentThumbnail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entry, ok := s.display.Get()
	if !ok {
		writeError(w, http.StatusNotFound, "no thumbnail uploaded yet")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *server) logResult(generation uint64, badgeName string, result matte.Result) {
	fields := logrus.Fields{
		"generation":   generation,
		"sourceWidth":  result.SourceWidth,
		"sourceHeight": result.SourceHeight,
		"keyedPixels":  result.KeyedPixels,
		"background":   result.Background.Hex,
	}
	if badgeName != "" {
		fields["badge"] = badgeName
	}
	entry := s.log.WithFields(fields)
	if !result.Background.LikelyKeyed {
		entry.Warn("dominant background is not near-white; matte removed little")
		return
	}
	entry.Info("thumbnail ready")
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, matte.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, matte.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, matte.ErrDecode), errors.Is(err, matte.ErrEmpty):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errInvalidUpload), errors.Is(err, matte.ErrDataURL), errors.Is(err, errInvalidBadgeName):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
