package apiapp

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/phillip-england/badgephoto/internal/matte"
)

const maxBadgeNameLen = 120

var errInvalidBadgeName = errors.New("invalid badge name")

func (s *server) listBadges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	badges, err := s.store.listBadges(r.Context())
	if err != nil {
		s.log.WithError(err).Error("list badges failed")
		writeError(w, http.StatusInternalServerError, "unable to list badges")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"badges": badges, "count": len(badges)})
}

// badgeByNameHandler serves /api/badges/{name} and /api/badges/{name}/photo.
func (s *server) badgeByNameHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/badges/"), "/"), "/")
	if len(parts) == 0 || len(parts) > 2 || (len(parts) == 2 && parts[1] != "photo") {
		http.NotFound(w, r)
		return
	}
	name, err := normalizeBadgeName(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.deleteBadge(w, r, name)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getBadgePhoto(w, r, name)
	case http.MethodPost, http.MethodPut:
		s.uploadBadgePhoto(w, r, name)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) uploadBadgePhoto(w http.ResponseWriter, r *http.Request, name string) {
	raw, err := s.readUpload(r)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	result, err := matte.Process(raw)
	if err != nil {
		s.log.WithError(err).WithField("badge", name).Warn("badge photo rejected")
		writeError(w, statusForError(err), err.Error())
		return
	}
	saved, err := s.store.upsertBadge(r.Context(), name, result.PNG, time.Now())
	if err != nil {
		s.log.WithError(err).WithField("badge", name).Error("save badge failed")
		writeError(w, http.StatusInternalServerError, "unable to save badge photo")
		return
	}
	entry := s.display.Set(result)
	s.logResult(entry.Generation, name, result)
	writeJSON(w, http.StatusOK, map[string]any{"badge": saved, "thumbnail": entry})
}

func (s *server) getBadgePhoto(w http.ResponseWriter, r *http.Request, name string) {
	b, err := s.store.getBadge(r.Context(), name)
	if err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "badge not found")
			return
		}
		s.log.WithError(err).WithField("badge", name).Error("load badge failed")
		writeError(w, http.StatusInternalServerError, "unable to load badge photo")
		return
	}
	etag := `"` + b.Digest + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(b.PNG)))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b.PNG)
}

func (s *server) deleteBadge(w http.ResponseWriter, r *http.Request, name string) {
	if err := s.store.deleteBadge(r.Context(), name); err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "badge not found")
			return
		}
		s.log.WithError(err).WithField("badge", name).Error("delete badge failed")
		writeError(w, http.StatusInternalServerError, "unable to delete badge")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "badge deleted"})
}

func normalizeBadgeName(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return "", fmt.Errorf("%w: name is required", errInvalidBadgeName)
	}
	if utf8.RuneCountInString(name) > maxBadgeNameLen {
		return "", fmt.Errorf("%w: name must be at most %d characters", errInvalidBadgeName, maxBadgeNameLen)
	}
	return name, nil
}
