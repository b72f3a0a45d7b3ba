package handler

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/speles7172/lahak/internal/core/domain"
	"github.com/speles7172/lahak/internal/core/service"
)

// HTTPHandler serves the sync surface. Every outcome, success or failure,
// is carried in the JSON body; the HTTP status is set to match but clients
// decide on the body alone.
type HTTPHandler struct {
	svc      *service.LedgerService
	assetDir string
}

type itemPayload struct {
	Code       string             `json:"code"`
	Series     string             `json:"series,omitempty"`
	Name       string             `json:"name"`
	Volume     string             `json:"volume,omitempty"`
	Total      *float64           `json:"total,omitempty"`
	Locations  map[string]float64 `json:"locations,omitempty"`
	LastUpdate string             `json:"last_update,omitempty"`
}

type locationPayload struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type userPayload struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	DefaultLocation string `json:"default_location,omitempty"`
}

type bootstrapResponse struct {
	Success   bool              `json:"success"`
	User      userPayload       `json:"user"`
	Locations []locationPayload `json:"locations"`
	Items     []itemPayload     `json:"items"`
}

type submitRequest struct {
	ItemCode string   `json:"item_code"`
	Qty      *float64 `json:"qty"`
	Location string   `json:"location"`
	User     string   `json:"user"`
	Comments string   `json:"comments"`
}

type submitResponse struct {
	Success   bool    `json:"success"`
	ItemCode  string  `json:"item_code"`
	ItemName  string  `json:"item_name"`
	Location  string  `json:"location"`
	OldQty    float64 `json:"old_qty"`
	NewQty    float64 `json:"new_qty"`
	Delta     float64 `json:"delta"`
	Timestamp string  `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewHTTPHandler(svc *service.LedgerService, assetDir string) *HTTPHandler {
	return &HTTPHandler{svc: svc, assetDir: assetDir}
}

// Router builds the route table. The bootstrap route must be declared
// before the plain lookup route so the action query wins.
func (h *HTTPHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/sync", h.Bootstrap).Methods(http.MethodGet).Queries("action", "bootstrap")
	r.HandleFunc("/sync", h.Lookup).Methods(http.MethodGet)
	r.HandleFunc("/sync", h.Submit).Methods(http.MethodPost)

	if h.assetDir != "" {
		r.PathPrefix("/assets/").
			Handler(http.StripPrefix("/assets/", http.FileServer(http.Dir(h.assetDir)))).
			Methods(http.MethodGet)
	}
	return r
}

func (h *HTTPHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   domain.CategoryValidation,
			Message: "identity required",
		})
		return
	}

	snapshot, err := h.svc.Bootstrap(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := bootstrapResponse{
		Success: true,
		User: userPayload{
			Email:           snapshot.User.Email,
			Name:            snapshot.User.Name,
			DefaultLocation: snapshot.User.DefaultLocation,
		},
		Locations: make([]locationPayload, 0, len(snapshot.Locations)),
		Items:     make([]itemPayload, 0, len(snapshot.Items)),
	}
	for _, loc := range snapshot.Locations {
		resp.Locations = append(resp.Locations, locationPayload{Code: loc.Code, Name: loc.Name})
	}
	for _, it := range snapshot.Items {
		resp.Items = append(resp.Items, fromItem(it))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Lookup is the legacy single-item fetch; it answers with the bare item
// instead of an envelope.
func (h *HTTPHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Lookup(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromItem(item))
}

func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   domain.CategoryValidation,
			Message: "invalid request body",
		})
		return
	}

	qty := math.NaN()
	if req.Qty != nil {
		qty = *req.Qty
	}

	receipt, err := h.svc.Submit(r.Context(), domain.Transaction{
		ItemCode: req.ItemCode,
		Qty:      qty,
		Location: req.Location,
		User:     req.User,
		Comment:  req.Comments,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		Success:   true,
		ItemCode:  receipt.ItemCode,
		ItemName:  receipt.ItemName,
		Location:  receipt.Location,
		OldQty:    receipt.OldQty,
		NewQty:    receipt.NewQty,
		Delta:     receipt.Delta,
		Timestamp: receipt.RecordedAt.Format(time.RFC3339Nano),
	})
}

func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func fromItem(it *domain.Item) itemPayload {
	p := itemPayload{
		Code:      it.Code,
		Series:    it.Series,
		Name:      it.Name,
		Volume:    it.Volume,
		Total:     it.Total,
		Locations: it.Locations,
	}
	if !it.UpdatedAt.IsZero() {
		p.LastUpdate = it.UpdatedAt.Format(time.RFC3339Nano)
	}
	return p
}

var statusByCategory = map[string]int{
	domain.CategoryValidation:    http.StatusBadRequest,
	domain.CategoryNotFound:      http.StatusNotFound,
	domain.CategoryUnauthorized:  http.StatusUnauthorized,
	domain.CategoryConcurrency:   http.StatusConflict,
	domain.CategoryConfiguration: http.StatusInternalServerError,
	domain.CategoryServer:        http.StatusInternalServerError,
}

func writeError(w http.ResponseWriter, err error) {
	category := domain.Category(err)
	status, ok := statusByCategory[category]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorResponse{Error: category, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("request handled")
	})
}
