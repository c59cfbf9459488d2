package apiapp

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phillip-england/badgephoto/internal/matte"
	"github.com/phillip-england/badgephoto/internal/slot"
	"github.com/sirupsen/logrus"
)

func newTestServer(t *testing.T, cfg Config) (*server, *httptest.Server) {
	t.Helper()
	store, err := openBadgeStore(filepath.Join(t.TempDir(), "badges.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := newServer(store, slot.New(), cfg, logger)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func photoPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if x > 10 && x < 30 {
				c = color.NRGBA{R: 30, G: 60, B: 90, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, "photo.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func doUpload(t *testing.T, method, target string, data []byte) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, photoField, data)
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// withDeclaredSize rewrites the IHDR of a PNG so its header claims w x h.
func withDeclaredSize(t *testing.T, raw []byte, w, h uint32) []byte {
	t.Helper()
	out := append([]byte(nil), raw...)
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func decodeEntry(t *testing.T, r io.Reader) slot.Entry {
	t.Helper()
	var entry slot.Entry
	if err := json.NewDecoder(r).Decode(&entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	return entry
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers on api responses")
	}
}

func TestCreateThumbnailUpdatesDisplaySlot(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/api/thumbnails/current")
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before any upload, got %d", resp.StatusCode)
	}

	upload := doUpload(t, http.MethodPost, ts.URL+"/api/thumbnails", photoPNG(t))
	if upload.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", upload.StatusCode)
	}
	entry := decodeEntry(t, upload.Body)
	if entry.Generation != 1 || entry.Result.Width != matte.ThumbnailSize || entry.Result.Height != matte.ThumbnailSize {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if !strings.HasPrefix(entry.Result.DataURI, "data:image/png;base64,") {
		t.Fatalf("expected png data uri")
	}
	if entry.Result.KeyedPixels != 40*20-19*20 {
		t.Fatalf("unexpected keyed pixel count %d", entry.Result.KeyedPixels)
	}

	second := doUpload(t, http.MethodPost, ts.URL+"/api/thumbnails", photoPNG(t))
	if second.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", second.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/thumbnails/current")
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	defer resp.Body.Close()
	current := decodeEntry(t, resp.Body)
	if current.Generation != 2 || current.Result.DataURI != entry.Result.DataURI {
		t.Fatalf("expected latest upload in slot, got generation %d", current.Generation)
	}
}

func TestCreateThumbnailFromDataURL(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	body, _ := json.Marshal(dataURLUpload{ImageData: matte.PNGDataURI(photoPNG(t))})
	resp, err := http.Post(ts.URL+"/api/thumbnails", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if entry := decodeEntry(t, resp.Body); entry.Result.SourceWidth != 40 {
		t.Fatalf("unexpected source width %d", entry.Result.SourceWidth)
	}
}

func TestCreateThumbnailReportsFailures(t *testing.T) {
	_, ts := newTestServer(t, Config{MaxUploadBytes: 4096})
	corruptPNG := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{1}, 64)...)

	cases := []struct {
		name string
		data []byte
		want int
	}{
		{"text file", []byte("hello, this is not an image"), http.StatusUnsupportedMediaType},
		{"corrupt png", corruptPNG, http.StatusUnprocessableEntity},
		{"too large", bytes.Repeat([]byte{0}, 5000), http.StatusRequestEntityTooLarge},
		{"empty", nil, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		resp := doUpload(t, http.MethodPost, ts.URL+"/api/thumbnails", tc.data)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, resp.StatusCode)
		}
		var payload map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload["error"] == "" {
			t.Fatalf("%s: expected json error body", tc.name)
		}
	}

	oversizedPNG := withDeclaredSize(t, photoPNG(t), 10000, 10000)
	resp := doUpload(t, http.MethodPost, ts.URL+"/api/thumbnails", oversizedPNG)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized dimensions, got %d", resp.StatusCode)
	}

	dataURLCases := []struct {
		name string
		size int
	}{
		{"data url over body limit", 20000},
		{"data url over decoded limit", 5000},
	}
	for _, tc := range dataURLCases {
		payload := append(photoPNG(t), bytes.Repeat([]byte{0}, tc.size)...)
		body, _ := json.Marshal(dataURLUpload{ImageData: matte.PNGDataURI(payload)})
		resp, err := http.Post(ts.URL+"/api/thumbnails", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusRequestEntityTooLarge {
			t.Fatalf("%s: expected 413, got %d", tc.name, resp.StatusCode)
		}
	}

	resp, err := http.Post(ts.URL+"/api/thumbnails", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong content type, got %d", resp.StatusCode)
	}

	body, contentType := multipartBody(t, "other_field", photoPNG(t))
	resp, err = http.Post(ts.URL+"/api/thumbnails", contentType, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing photo field, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/thumbnails")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestBadgeLifecycle(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	badgeURL := ts.URL + "/api/badges/" + url.PathEscape("Jordan  Lee") + "/photo"

	upload := doUpload(t, http.MethodPut, badgeURL, photoPNG(t))
	if upload.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", upload.StatusCode)
	}
	if entry, ok := s.display.Get(); !ok || entry.Generation != 1 {
		t.Fatalf("expected badge upload to update display slot")
	}

	resp, err := http.Get(badgeURL)
	if err != nil {
		t.Fatalf("get badge: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("expected png badge, got %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode badge png: %v", err)
	}
	if img.Bounds().Dx() != matte.ThumbnailSize || img.Bounds().Dy() != matte.ThumbnailSize {
		t.Fatalf("expected 192x192 badge, got %v", img.Bounds())
	}

	req, _ := http.NewRequest(http.MethodGet, badgeURL, nil)
	req.Header.Set("If-None-Match", resp.Header.Get("ETag"))
	cached, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("conditional get: %v", err)
	}
	cached.Body.Close()
	if cached.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", cached.StatusCode)
	}

	list, err := http.Get(ts.URL + "/api/badges")
	if err != nil {
		t.Fatalf("list badges: %v", err)
	}
	defer list.Body.Close()
	var listed struct {
		Badges []badge `json:"badges"`
		Count  int     `json:"count"`
	}
	if err := json.NewDecoder(list.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listed.Count != 1 || listed.Badges[0].Name != "Jordan Lee" || listed.Badges[0].Digest == "" {
		t.Fatalf("unexpected badge list %+v", listed)
	}

	deleteURL := ts.URL + "/api/badges/" + url.PathEscape("Jordan Lee")
	for i, want := range []int{http.StatusOK, http.StatusNotFound} {
		req, _ := http.NewRequest(http.MethodDelete, deleteURL, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("delete badge: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("delete %d: expected %d, got %d", i, want, resp.StatusCode)
		}
	}

	missing, err := http.Get(badgeURL)
	if err != nil {
		t.Fatalf("get badge: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", missing.StatusCode)
	}
}

func TestBadgeRoutesRejectBadPaths(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	for _, path := range []string{"/api/badges/a/b/c", "/api/badges/a/avatar"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
	long := strings.Repeat("x", maxBadgeNameLen+1)
	resp, err := http.Get(ts.URL + "/api/badges/" + long + "/photo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for long name, got %d", resp.StatusCode)
	}
}

func TestThumbnailStreamPushesOverwrites(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	s.display.Set(matte.Result{DataURI: "data:image/png;base64,AAAA", Width: 192, Height: 192})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/thumbnails/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first slot.Entry
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first entry: %v", err)
	}
	if first.Generation != 1 || first.Result.DataURI != "data:image/png;base64,AAAA" {
		t.Fatalf("expected current entry on connect, got %+v", first)
	}

	upload := doUpload(t, http.MethodPost, ts.URL+"/api/thumbnails", photoPNG(t))
	if upload.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", upload.StatusCode)
	}

	var second slot.Entry
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second entry: %v", err)
	}
	if second.Generation != 2 || !strings.HasPrefix(second.Result.DataURI, "data:image/png;base64,") {
		t.Fatalf("expected pushed overwrite, got generation %d", second.Generation)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000/"})
	cases := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "api.local", true},
		{"http://api.local", "api.local", true},
		{"http://localhost:3000", "localhost:8080", true},
		{"http://evil.example", "localhost:8080", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/api/thumbnails/stream", nil)
		r.Host = tc.host
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := check(r); got != tc.want {
			t.Fatalf("origin %q host %q: expected %v, got %v", tc.origin, tc.host, tc.want, got)
		}
	}
}
