package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"metaman/api/internal/hooks"
	"metaman/api/internal/push"
	"metaman/api/internal/search"
	"metaman/api/internal/store"
)

type searchFacade interface {
	Search(q search.Query) search.Response
}

// PushReports exposes the stored report of the last completed push.
type PushReports interface {
	LastReport(ctx context.Context) (json.RawMessage, error)
}

type HTTPServer struct {
	service    *Service
	push       *push.Service
	search     searchFacade
	reports    PushReports
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, pushService *push.Service, searchService searchFacade, reports PushReports, corsOrigin string, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		service:    service,
		push:       pushService,
		search:     searchService,
		reports:    reports,
		corsOrigin: corsOrigin,
		log:        log.With().Str("component", "http").Logger(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// userFromRequest reads the caller identity set by the authenticating proxy
// in front of this API.
func userFromRequest(r *http.Request) hooks.User {
	return hooks.User{
		Name:        r.Header.Get("X-User-Name"),
		IsSuperUser: r.Header.Get("X-Super-User") == "true",
		IsAPIUser:   r.Header.Get("X-Api-User") == "true",
	}
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]any{"database": map[string]any{"status": "ok"}}
		statusCode := http.StatusOK
		if err := s.service.Ping(ctx); err != nil {
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{"ok": statusCode == http.StatusOK, "checks": checks})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
		return
	}
	user := userFromRequest(r)

	switch parts[1] {
	case "metadata":
		s.handleMetadata(w, r, user, parts[2:])
	case "merge":
		s.handleMerge(w, r, user, parts[2:])
	case "revisions":
		s.handleRevisions(w, r, parts[2:])
	case "restoreDeleted":
		s.handleRestore(w, r, user, parts[2:], true)
	case "restoreRevision":
		s.handleRestore(w, r, user, parts[2:], false)
	case "metadataKey":
		s.handleMetadataKey(w, r, user, parts[2:])
	case "orphans":
		s.handleOrphans(w, r, user)
	case "recentActivity":
		s.handleRecentActivity(w, r)
	case "changeRequests":
		s.handleChangeRequests(w, r, user, parts[2:])
	case "playground":
		s.handlePlayground(w, r, user, parts[2:])
	case "import":
		s.handleImport(w, r, user, parts[2:])
	case "search":
		s.handleSearch(w, r)
	case "template":
		s.handleTemplate(w, r, parts[2:])
	case "schema":
		s.handleSchema(w, r, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
	}
}

func (s *HTTPServer) handleMetadata(w http.ResponseWriter, r *http.Request, user hooks.User, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
		return
	}
	entityType, err := typeFromPath(parts[0])
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPost:
			var body struct {
				Data                    map[string]any `json:"data"`
				ExcludeFromPushRequired bool           `json:"excludeFromPushRequired"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "ValidationFailure", err.Error(), nil)
				return
			}
			doc := &store.MetaData{Type: entityType, Data: body.Data}
			created, err := s.service.Create(r.Context(), doc, user, body.ExcludeFromPushRequired)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, created)
		default:
			writeError(w, http.StatusMethodNotAllowed, "EndpointNotAllowed", "Method not allowed", nil)
		}
		return
	}

	id := parts[1]
	switch r.Method {
	case http.MethodGet:
		doc, err := s.service.Get(r.Context(), entityType, id)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodPut:
		var body struct {
			Version                 int64          `json:"version"`
			Data                    map[string]any `json:"data"`
			ExcludeFromPushRequired bool           `json:"excludeFromPushRequired"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "ValidationFailure", err.Error(), nil)
			return
		}
		doc := &store.MetaData{ID: id, Type: entityType, Version: body.Version, Data: body.Data}
		updated, err := s.service.Update(r.Context(), doc, user, body.ExcludeFromPushRequired)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		note := r.URL.Query().Get("revisionNote")
		if err := s.service.Delete(r.Context(), entityType, id, user, note); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "EndpointNotAllowed", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleMerge(w http.ResponseWriter, r *http.Request, user hooks.User, parts []string) {
	if r.Method != http.MethodPut || len(parts) != 2 {
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
		return
	}
	entityType, err := typeFromPath(parts[0])
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	var body struct {
		PathUpdates  map[string]any `json:"pathUpdates"`
		RevisionNote string         `json:"revisionNote"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationFailure", err.Error(), nil)
		return
	}
	result, err := s.service.MergeUpdate(r.Context(), entityType, parts[1], body.PathUpdates, user, body.RevisionNote)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleRevisions(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet || len(parts) != 2 {
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
		return
	}
	entityType, err := typeFromPath(parts[0])
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	revisions, err := s.service.Revisions(r.Context(), entityType, parts[1])
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, revisions)
}

func (s *HTTPServer) handleRestore(w http.ResponseWriter, r *http.Request, user hooks.User, parts []string, deleted bool) {
	if r.Method != http.MethodPut || len(parts) != 2 {
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
		return
	}
	entityType, err := typeFromPath(parts[0])
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	var doc *store.MetaData
	if deleted {
		doc, err = s.service.RestoreDeleted(r.Context(), entityType, parts[1], user)
	} else {
		doc, err = s.service.RestoreRevision(r.Context(), entityType, parts[1], user)
	}
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleMetadataKey(w http.ResponseWriter, r *http.Request, user hooks.User, parts []string) {
	if r.Method != http.MethodDelete || len(parts) != 2 {
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
		return
	}
	entityType, err := typeFromPath(parts[0])
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	results, err := s.service.DeleteMetaDataKey(r.Context(), entityType, parts[1], user)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *HTTPServer) handleOrphans(w http.ResponseWriter, r *http.Request, user hooks.User) {
	switch r.Method {
	case http.MethodGet:
		orphans, err := s.service.Orphans(r.Context())
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orphans)
	case http.MethodPut:
		fixed, err := s.service.FixOrphans(r.Context(), user)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fixed)
	default:
		writeError(w, http.StatusMethodNotAllowed, "EndpointNotAllowed", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleRecentActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "EndpointNotAllowed", "Method not allowed", nil)
		return
	}
	types := store.EntityTypes
	if raw := r.URL.Query().Get("types"); raw != "" {
		types = nil
		for _, name := range strings.Split(raw, ",") {
			entityType, ok := store.ParseEntityType(strings.TrimSpace(name))
			if !ok {
				writeError(w, http.StatusBadRequest, "ValidationFailure", "unknown entity type "+name, nil)
				return
			}
			types = append(types, entityType)
		}
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	docs, err := s.service.RecentActivity(r.Context(), types, limit)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *HTTPServer) handleChangeRequests(w http.ResponseWriter, r *http.Request, user hooks.User, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		requests, err := s.service.AllChangeRequests(r.Context())
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, requests)
	case len(parts) == 1 && r.Method == http.MethodPost:
		entityType, err := typeFromPath(parts[0])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		var body struct {
			MetaDataID  string         `json:"metaDataId"`
			PathUpdates map[string]any `json:"pathUpdates"`
			Note        string         `json:"note"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "ValidationFailure", err.Error(), nil)
			return
		}
		request := &store.ChangeRequest{
			MetaDataID:  body.MetaDataID,
			Type:        entityType,
			PathUpdates: body.PathUpdates,
			Note:        body.Note,
		}
		created, err := s.service.CreateChangeRequest(r.Context(), request, user)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, created)
	case len(parts) == 2 && r.Method == http.MethodGet:
		entityType, err := typeFromPath(parts[0])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		requests, err := s.service.ChangeRequests(r.Context(), entityType, parts[1])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, requests)
	case len(parts) == 3 && r.Method == http.MethodPut && parts[0] == "accept":
		entityType, err := typeFromPath(parts[1])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		result, err := s.service.AcceptChangeRequest(r.Context(), entityType, parts[2], user)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case len(parts) == 3 && r.Method == http.MethodPut && parts[0] == "reject":
		entityType, err := typeFromPath(parts[1])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		if err := s.service.RejectChangeRequest(r.Context(), entityType, parts[2], user); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rejected": true})
	default:
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
	}
}

func (s *HTTPServer) handlePlayground(w http.ResponseWriter, r *http.Request, user hooks.User, parts []string) {
	if len(parts) != 1 || s.push == nil {
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
		return
	}
	switch {
	case parts[0] == "pushPreview" && r.Method == http.MethodGet:
		preview, err := s.push.Preview(r.Context())
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, preview)
	case parts[0] == "push" && r.Method == http.MethodPut:
		if !user.IsSuperUser {
			writeError(w, http.StatusForbidden, "EndpointNotAllowed", "push requires super user", nil)
			return
		}
		result, err := s.push.Do(r.Context())
		if errors.Is(err, push.ErrPushInProgress) {
			writeError(w, http.StatusConflict, "PushInProgress", err.Error(), nil)
			return
		}
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case parts[0] == "lastPush" && r.Method == http.MethodGet:
		if s.reports == nil {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		report, err := s.reports.LastReport(r.Context())
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		if report == nil {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
	}
}

func (s *HTTPServer) handleImport(w http.ResponseWriter, r *http.Request, user hooks.User, parts []string) {
	if r.Method != http.MethodPut || len(parts) != 1 || parts[0] != "feed" {
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
		return
	}
	if !user.IsSuperUser && !user.IsAPIUser {
		writeError(w, http.StatusForbidden, "EndpointNotAllowed", "feed import requires super user", nil)
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationFailure", err.Error(), nil)
		return
	}
	report, err := s.service.ImportFeed(r.Context(), body.URL, user)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || s.search == nil {
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
		return
	}
	query := search.Query{
		Text:  r.URL.Query().Get("q"),
		State: r.URL.Query().Get("state"),
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		entityType, ok := store.ParseEntityType(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "ValidationFailure", "unknown entity type "+raw, nil)
			return
		}
		query.FilterType = entityType
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		query.Limit, _ = strconv.Atoi(raw)
	}
	writeJSON(w, http.StatusOK, s.search.Search(query))
}

func (s *HTTPServer) handleTemplate(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet || len(parts) != 1 {
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
		return
	}
	entityType, err := typeFromPath(parts[0])
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.service.registry.Template(entityType))
}

func (s *HTTPServer) handleSchema(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet || len(parts) != 1 {
		writeError(w, http.StatusNotFound, "ResourceNotFound", "Not found", nil)
		return
	}
	entityType, err := typeFromPath(parts[0])
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.service.registry.Representation(entityType))
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	domain := asDomainError(err)
	if domain.Status >= 500 {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info().Str("request_id", requestID).Str("method", r.Method).
			Str("path", r.URL.Path).Int("status", writer.status).
			Dur("duration", time.Since(started)).Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-User-Name, X-Super-User, X-Api-User")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
