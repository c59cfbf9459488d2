package clientapp

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phillip-england/badgephoto/internal/envutil"
	"github.com/phillip-england/badgephoto/internal/logging"
	"github.com/phillip-england/badgephoto/internal/middleware"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Addr         string
	APIBaseURL   string
	StreamURL    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *logrus.Logger
}

type pageData struct {
	Error     string
	Warning   string
	Success   string
	StreamURL string
	Thumbnail *thumbnailView
	Badges    []badgeView
}

type thumbnailView struct {
	Generation   uint64
	UpdatedAt    string
	DataURI      template.URL
	SourceWidth  int
	SourceHeight int
	KeyedPixels  int
	Background   string
	LikelyKeyed  bool
}

type badgeView struct {
	Name      string    `json:"name"`
	Digest    string    `json:"digest"`
	UpdatedAt time.Time `json:"updatedAt"`
	PhotoURL  string    `json:"-"`
}

type thumbnailEntryResponse struct {
	Generation uint64    `json:"generation"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Result     struct {
		DataURI      string `json:"dataUri"`
		SourceWidth  int    `json:"sourceWidth"`
		SourceHeight int    `json:"sourceHeight"`
		KeyedPixels  int    `json:"keyedPixels"`
		Background   struct {
			Hex         string `json:"hex"`
			LikelyKeyed bool   `json:"likelyKeyed"`
		} `json:"background"`
	} `json:"result"`
}

type badgeListResponse struct {
	Badges []badgeView `json:"badges"`
}

type apiErrorResponse struct {
	Error string `json:"error"`
}

//go:embed templates/index.html assets/app.css
var templatesFS embed.FS

type server struct {
	apiBaseURL string
	streamURL  string
	apiClient  *http.Client
	indexTmpl  *template.Template
	log        logrus.FieldLogger
}

func DefaultConfigFromEnv() Config {
	apiBaseURL := envutil.OrDefault("API_BASE_URL", "http://localhost:8080")
	return Config{
		Addr:         envutil.OrDefault("CLIENT_ADDR", ":3000"),
		APIBaseURL:   apiBaseURL,
		StreamURL:    envutil.OrDefault("API_STREAM_URL", streamURLFromBase(apiBaseURL)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.FromEnv()
	}
	s := newServer(cfg, logger.WithField("app", "client"))

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("client listening on http://localhost%s", cfg.Addr)
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

func newServer(cfg Config, logger logrus.FieldLogger) *server {
	apiBaseURL := strings.TrimRight(cfg.APIBaseURL, "/")
	streamURL := cfg.StreamURL
	if streamURL == "" {
		streamURL = streamURLFromBase(apiBaseURL)
	}
	return &server{
		apiBaseURL: apiBaseURL,
		streamURL:  streamURL,
		apiClient:  &http.Client{Timeout: 8 * time.Second},
		indexTmpl:  template.Must(template.ParseFS(templatesFS, "templates/index.html")),
		log:        logger,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", http.HandlerFunc(s.indexPage))
	mux.Handle("/upload", http.HandlerFunc(s.uploadThumbnailProxy))
	mux.Handle("/badges", http.HandlerFunc(s.saveBadgeProxy))
	mux.Handle("/badges/", http.HandlerFunc(s.badgePhotoProxy))
	mux.Handle("/assets/app.css", http.HandlerFunc(s.appCSSFile))
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}))

	csp := strings.Join([]string{
		"default-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data:",
		"script-src 'self' 'unsafe-inline'",
		"connect-src 'self' " + streamOrigin(s.streamURL),
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		mux,
		middleware.RequestLogger(s.log),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	)
}

func (s *server) indexPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	data := pageData{
		Error:     query.Get("error"),
		Warning:   query.Get("warning"),
		Success:   query.Get("success"),
		StreamURL: s.streamURL,
	}

	thumb, err := s.fetchCurrentThumbnail(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("unable to load current thumbnail")
		if data.Error == "" {
			data.Error = "Thumbnail service unavailable"
		}
	}
	data.Thumbnail = thumb

	badges, err := s.fetchBadges(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("unable to load badges")
	}
	data.Badges = badges

	if err := renderHTMLTemplate(w, s.indexTmpl, data); err != nil {
		http.Error(w, "template render failed", http.StatusInternalServerError)
		s.log.WithError(err).Error("index template render failed")
	}
}

func (s *server) uploadThumbnailProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, contentType, err := repackPhotoUpload(r)
	if err != nil {
		redirectWithMessage(w, r, "error", err.Error())
		return
	}

	apiResp, err := s.postToAPI(r.Context(), http.MethodPost, "/api/thumbnails", body, contentType)
	if err != nil {
		redirectWithMessage(w, r, "error", "Upload service unavailable")
		return
	}
	defer apiResp.Body.Close()

	if apiResp.StatusCode != http.StatusOK {
		redirectWithMessage(w, r, "error", apiErrorMessage(apiResp, "Unable to process photo"))
		return
	}
	var entry thumbnailEntryResponse
	if err := json.NewDecoder(apiResp.Body).Decode(&entry); err != nil {
		redirectWithMessage(w, r, "error", "Unexpected response from upload service")
		return
	}
	if !entry.Result.Background.LikelyKeyed {
		redirectWithMessage(w, r, "warning", "Background does not look white, so little of it was removed")
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *server) saveBadgeProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, contentType, err := repackPhotoUpload(r)
	if err != nil {
		redirectWithMessage(w, r, "error", err.Error())
		return
	}
	name := strings.TrimSpace(r.FormValue("employee_name"))
	if name == "" {
		redirectWithMessage(w, r, "error", "Employee name is required")
		return
	}

	apiResp, err := s.postToAPI(r.Context(), http.MethodPut, "/api/badges/"+url.PathEscape(name)+"/photo", body, contentType)
	if err != nil {
		redirectWithMessage(w, r, "error", "Badge service unavailable")
		return
	}
	defer apiResp.Body.Close()
	if apiResp.StatusCode != http.StatusOK {
		redirectWithMessage(w, r, "error", apiErrorMessage(apiResp, "Unable to save badge photo"))
		return
	}
	redirectWithMessage(w, r, "success", "Saved badge photo for "+name)
}

func (s *server) badgePhotoProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/badges/")
	name, ok := strings.CutSuffix(rest, "/photo")
	if !ok || name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}
	apiReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.apiBaseURL+"/api/badges/"+url.PathEscape(name)+"/photo", nil)
	if err != nil {
		http.Error(w, "upstream request failed", http.StatusInternalServerError)
		return
	}
	apiResp, err := s.apiClient.Do(apiReq)
	if err != nil {
		http.Error(w, "upstream service unavailable", http.StatusBadGateway)
		return
	}
	defer apiResp.Body.Close()
	if apiResp.StatusCode != http.StatusOK {
		http.NotFound(w, r)
		return
	}
	if ct := apiResp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	_, _ = io.Copy(w, apiResp.Body)
}

func (s *server) appCSSFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	css, err := templatesFS.ReadFile("assets/app.css")
	if err != nil {
		http.Error(w, "asset not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(css)
}

func (s *server) fetchCurrentThumbnail(ctx context.Context) (*thumbnailView, error) {
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiBaseURL+"/api/thumbnails/current", nil)
	if err != nil {
		return nil, err
	}
	apiResp, err := s.apiClient.Do(apiReq)
	if err != nil {
		return nil, err
	}
	defer apiResp.Body.Close()
	if apiResp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if apiResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("current thumbnail: unexpected status %s", apiResp.Status)
	}
	var entry thumbnailEntryResponse
	if err := json.NewDecoder(apiResp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decode current thumbnail: %w", err)
	}
	if !strings.HasPrefix(entry.Result.DataURI, "data:image/png;base64,") {
		return nil, errors.New("current thumbnail is not a png data uri")
	}
	return &thumbnailView{
		Generation:   entry.Generation,
		UpdatedAt:    entry.UpdatedAt.Local().Format("Jan 2, 2006 3:04:05 PM"),
		DataURI:      template.URL(entry.Result.DataURI),
		SourceWidth:  entry.Result.SourceWidth,
		SourceHeight: entry.Result.SourceHeight,
		KeyedPixels:  entry.Result.KeyedPixels,
		Background:   entry.Result.Background.Hex,
		LikelyKeyed:  entry.Result.Background.LikelyKeyed,
	}, nil
}

func (s *server) fetchBadges(ctx context.Context) ([]badgeView, error) {
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiBaseURL+"/api/badges", nil)
	if err != nil {
		return nil, err
	}
	apiResp, err := s.apiClient.Do(apiReq)
	if err != nil {
		return nil, err
	}
	defer apiResp.Body.Close()
	if apiResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list badges: unexpected status %s", apiResp.Status)
	}
	var list badgeListResponse
	if err := json.NewDecoder(apiResp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode badges: %w", err)
	}
	for i := range list.Badges {
		list.Badges[i].PhotoURL = "/badges/" + url.PathEscape(list.Badges[i].Name) + "/photo"
	}
	return list.Badges, nil
}

func (s *server) postToAPI(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	apiReq, err := http.NewRequestWithContext(ctx, method, s.apiBaseURL+path, body)
	if err != nil {
		return nil, err
	}
	apiReq.Header.Set("Content-Type", contentType)
	return s.apiClient.Do(apiReq)
}

// repackPhotoUpload copies the photo_file part of an incoming form into a new
// multipart body for the API.
func repackPhotoUpload(r *http.Request) (*bytes.Buffer, string, error) {
	if err := r.ParseMultipartForm(20 << 20); err != nil {
		return nil, "", errors.New("invalid upload")
	}
	file, header, err := r.FormFile("photo_file")
	if err != nil {
		return nil, "", errors.New("photo file is required")
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("photo_file", header.Filename)
	if err != nil {
		return nil, "", errors.New("unable to prepare upload")
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", errors.New("unable to read upload")
	}
	if err := writer.Close(); err != nil {
		return nil, "", errors.New("unable to finalize upload")
	}
	return &body, writer.FormDataContentType(), nil
}

func apiErrorMessage(resp *http.Response, fallback string) string {
	var payload apiErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err != nil {
		return fallback
	}
	if msg := strings.TrimSpace(payload.Error); msg != "" {
		return msg
	}
	return fallback
}

func redirectWithMessage(w http.ResponseWriter, r *http.Request, key, message string) {
	http.Redirect(w, r, "/?"+url.Values{key: {message}}.Encode(), http.StatusFound)
}

func renderHTMLTemplate(w http.ResponseWriter, tmpl *template.Template, data pageData) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := w.Write(buf.Bytes())
	return err
}

func streamURLFromBase(apiBaseURL string) string {
	u, err := url.Parse(strings.TrimRight(apiBaseURL, "/"))
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/thumbnails/stream"
	return u.String()
}

func streamOrigin(streamURL string) string {
	u, err := url.Parse(streamURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
