// Package pairingapi exposes the session coordinator over HTTP+JSON.
package pairingapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"duet/cmd/internal/catalog"
	"duet/cmd/internal/pairing"

	"github.com/go-chi/chi/v5"
)

const defaultMaxBodyBytes = 64 << 10

// Config controls the API surface.
type Config struct {
	MaxBodyBytes int64
	// PaymentMockEnabled exposes POST /sessions/{id}/pay.
	PaymentMockEnabled bool

	// InviteFailureMax invalid codes per client within InviteFailureWindow
	// trigger 429 on submit. Zero disables the throttle.
	InviteFailureMax    int
	InviteFailureWindow time.Duration
	// TrustProxy reads the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
}

// Handler serves the pairing endpoints.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	coord    *pairing.Coordinator
	catalog  *catalog.Catalog
	throttle *codeThrottle
	now      func() time.Time
}

// NewHandler constructs a Handler. catalog may be nil, in which case GET /questions is 404.
func NewHandler(log *slog.Logger, coord *pairing.Coordinator, cat *catalog.Catalog, cfg Config) (*Handler, error) {
	if coord == nil {
		return nil, errors.New("pairingapi: nil coordinator")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		coord:    coord,
		catalog:  cat,
		throttle: newCodeThrottle(cfg.InviteFailureMax, cfg.InviteFailureWindow),
		now:      time.Now,
	}, nil
}

// Routes returns the router to be mounted under a version prefix.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/sessions", h.handleCreate)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleView)
		r.Post("/pay", h.handlePay)
		r.Get("/signals", h.handleSignals)
	})
	r.Post("/invites/{code}/join", h.handleJoin)
	r.Post("/invites/{code}/submit", h.handleSubmit)
	r.Get("/questions", h.handleQuestions)
	return r
}

// ---- handlers ----

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_answers", validationMessage(err))
		return
	}

	id, err := h.coord.SubmitInitiator(r.Context(), req.Name, req.Answers)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{
		SessionID: id,
		Status:    string(pairing.StageAwaitingPayment),
	})
}

func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.PaymentMockEnabled {
		writeError(w, http.StatusForbidden, "payment_disabled", "mock payment is disabled")
		return
	}
	sess, err := h.coord.MarkPaid(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{SessionID: sess.ID, Status: string(sess.PaymentStatus)})
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	v, err := h.coord.View(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleSignals(w http.ResponseWriter, r *http.Request) {
	sig, err := h.coord.LatestJoin(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// handleJoin always answers ok; the join notification is advisory.
func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.log.Debug("join.notify.ignored", "reason", "invalid_json")
		writeJSON(w, http.StatusOK, okResponse{OK: true})
		return
	}
	if err := validate.Struct(req); err == nil {
		h.coord.NotifyJoin(r.Context(), chi.URLParam(r, "code"), req.Name)
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_answers", validationMessage(err))
		return
	}

	client := clientKey(r, h.cfg.TrustProxy)
	if blocked, retry := h.throttle.Check(client, h.now()); blocked {
		h.log.Warn("invite.submit.throttled", "client", client, "retry_after_ms", retry.Milliseconds())
		writeRateLimited(w, retry)
		return
	}

	res, err := h.coord.SubmitPartner(r.Context(), chi.URLParam(r, "code"), req.Name, req.Answers)
	if err != nil {
		if errors.Is(err, pairing.ErrInvalidCode) {
			h.throttle.RecordFailure(client, h.now())
		}
		h.writeServiceError(w, r, err)
		return
	}
	status := "submitted"
	if res.Outcome == pairing.PartnerAlreadyFinished {
		status = "already_finished"
	}
	writeJSON(w, http.StatusOK, submitResponse{SessionID: res.SessionID, Status: status})
}

func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeError(w, http.StatusNotFound, "not_found", "no question catalog configured")
		return
	}
	writeJSON(w, http.StatusOK, h.catalog)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr pairing.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "invalid_answers", verr.Error())
	case errors.Is(err, pairing.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_answers", "invalid submission")
	case errors.Is(err, pairing.ErrInvalidCode):
		writeError(w, http.StatusConflict, "invalid_code", "invite code is invalid or already used")
	case errors.Is(err, pairing.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "session not found")
	default:
		h.log.Error("pairing.request.fail", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
