package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/sub-tracker/internal/catalog"
	"github.com/zombor/sub-tracker/internal/extraction"
	"github.com/zombor/sub-tracker/internal/subscription"
)

// maxUploadSize bounds statement uploads (high-resolution phone photos)
const maxUploadSize = int64(50 << 20) // 50MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// errorJSON writes a JSON error body with CORS headers set
func errorJSON(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response body
func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// flexPrice accepts a JSON number or a numeric string
type flexPrice float64

func (p *flexPrice) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*p = flexPrice(num)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("price must be a number or numeric string")
	}
	num, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil {
		return fmt.Errorf("parsing price %q: %w", str, err)
	}
	*p = flexPrice(num)
	return nil
}

// flexDate accepts RFC 3339 timestamps or bare YYYY-MM-DD dates
type flexDate time.Time

func (d *flexDate) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("date must be a string")
	}
	for _, format := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(format, str); err == nil {
			*d = flexDate(t)
			return nil
		}
	}
	return fmt.Errorf("unrecognized date: %q", str)
}

// subscriptionRequest is the create payload
type subscriptionRequest struct {
	UserID          string    `json:"userId"`
	ServiceName     string    `json:"serviceName"`
	Price           flexPrice `json:"price"`
	StartDate       *flexDate `json:"startDate"`
	EndDate         *flexDate `json:"endDate"`
	Category        string    `json:"category"`
	CancellationURL string    `json:"cancellationUrl"`
}

// patchRequest is the partial update payload; absent fields stay unchanged
type patchRequest struct {
	ServiceName     *string    `json:"serviceName"`
	Price           *flexPrice `json:"price"`
	StartDate       *flexDate  `json:"startDate"`
	EndDate         *flexDate  `json:"endDate"`
	Category        *string    `json:"category"`
	CancellationURL *string    `json:"cancellationUrl"`
}

// handleDetectSubscriptions accepts an uploaded billing statement, runs the
// vision model over it, and returns extracted candidates plus catalog
// matches. With ?raw=1 only the extracted items are returned.
func (s *Server) handleDetectSubscriptions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorJSON(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		errorJSON(w, "Missing file", http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		errorJSON(w, "File is too large. Maximum size is 50MB.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		errorJSON(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFromExtension(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	rawText, err := s.scanner.ScanStatement(data, contentType)
	if err != nil {
		slog.Error("Error scanning statement",
			"filename", header.Filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		errorJSON(w, "Failed to detect subscriptions", http.StatusBadGateway)
		return
	}

	// An unparseable model response degrades to an empty candidate list;
	// callers cannot tell it apart from "nothing detected"
	items := extraction.Normalize(rawText)

	if r.URL.Query().Get("raw") == "1" {
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	if len(items) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"matches": []catalog.MatchedItem{}, "items": items})
		return
	}

	matches, err := s.matcher.Match(items)
	if err != nil {
		slog.Error("Error matching candidates against catalog", "error", err)
		errorJSON(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"matches": matches, "items": items})
}

// contentTypeFromExtension guesses a MIME type for browsers that omit one
func contentTypeFromExtension(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleListSubscriptions returns a user's subscriptions
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	subs, err := s.service.List(userID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotAuthenticated) {
			errorJSON(w, "User not authenticated", http.StatusUnauthorized)
			return
		}
		slog.Error("Error listing subscriptions", "error", err)
		errorJSON(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

// handleCreateSubscription creates a subscription from a manual entry or a
// reconciliation confirm
func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	input := subscription.CreateInput{
		UserID:          req.UserID,
		ServiceName:     req.ServiceName,
		Price:           float64(req.Price),
		Category:        req.Category,
		CancellationURL: req.CancellationURL,
	}
	if req.StartDate != nil {
		input.StartDate = time.Time(*req.StartDate)
	}
	if req.EndDate != nil {
		input.EndDate = time.Time(*req.EndDate)
	}

	sub, err := s.service.Create(input)
	if err != nil {
		if errors.Is(err, subscription.ErrNotAuthenticated) {
			errorJSON(w, "User not authenticated", http.StatusUnauthorized)
			return
		}
		slog.Error("Error creating subscription", "error", err)
		errorJSON(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// handleUpdateSubscription applies a partial patch to a subscription
func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		errorJSON(w, "Subscription ID is required", http.StatusBadRequest)
		return
	}

	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	patch := subscription.Patch{
		ServiceName:     req.ServiceName,
		Category:        req.Category,
		CancellationURL: req.CancellationURL,
	}
	if req.Price != nil {
		price := float64(*req.Price)
		patch.Price = &price
	}
	if req.StartDate != nil {
		start := time.Time(*req.StartDate)
		patch.StartDate = &start
	}
	if req.EndDate != nil {
		end := time.Time(*req.EndDate)
		patch.EndDate = &end
	}

	sub, err := s.service.Update(id, patch)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			errorJSON(w, "Subscription not found", http.StatusNotFound)
			return
		}
		slog.Error("Error updating subscription", "id", id, "error", err)
		errorJSON(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// handleDeleteSubscription removes a subscription through the owner's
// session controller so the delete is optimistic and undoable
func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		errorJSON(w, "Subscription ID is required", http.StatusBadRequest)
		return
	}

	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		errorJSON(w, "User not authenticated", http.StatusUnauthorized)
		return
	}

	ctrl := s.sessions.Get(req.UserID)
	if err := ctrl.Delete(id); err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			errorJSON(w, "Subscription not found or user does not have permission", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting subscription", "id", id, "error", err)
		errorJSON(w, "Error deleting subscription", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Subscription removed"})
}

// handleUndoDelete restores the most recently deleted subscription while the
// undo window is still open. Undo with nothing buffered is a no-op.
func (s *Server) handleUndoDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		errorJSON(w, "User not authenticated", http.StatusUnauthorized)
		return
	}

	if err := s.sessions.Get(req.UserID).Undo(); err != nil {
		slog.Error("Error restoring subscription", "error", err)
		errorJSON(w, "Error restoring subscription", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListCatalog returns the known-service catalog
func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	services, err := s.service.ListServices()
	if err != nil {
		slog.Error("Error listing catalog", "error", err)
		errorJSON(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, services)
}
