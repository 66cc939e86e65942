// Package gateway exposes the enclave's attestation document over HTTP on the
// parent instance, so that callers without vsock access can fetch it.
package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Electron-Labs/nitro-attestation/pkg/attestation"
	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

const ContentTypeCBOR = "application/cbor"

// Fetcher retrieves a raw attestation document from an enclave.
// *protocol.Client implements it.
type Fetcher interface {
	FetchAttestationDocument(ctx context.Context, addr types.Address) ([]byte, error)
}

type Options struct {
	Addr     types.Address
	Verifier attestation.Verifier
	CacheTTL time.Duration
	Logger   *zap.Logger
}

type Handler struct {
	fetcher  Fetcher
	addr     types.Address
	verifier attestation.Verifier
	cache    *DocumentCache
	logger   *zap.Logger
	now      func() time.Time
}

func New(fetcher Fetcher, opts Options) *Handler {
	h := &Handler{
		fetcher:  fetcher,
		addr:     opts.Addr,
		verifier: opts.Verifier,
		logger:   opts.Logger,
		now:      time.Now,
	}
	if h.verifier == nil {
		h.verifier = &attestation.CertificateVerifier{}
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	h.cache = NewDocumentCache(opts.CacheTTL, h.load)
	return h
}

// RegisterRoutes mounts the gateway endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/v1/attestation", func(r chi.Router) {
		r.Get("/", h.handleDocument)
		r.Get("/pcrs/{index}", h.handlePCR)
	})
}

// Router returns the complete HTTP handler with request logging and panic
// recovery.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) load(ctx context.Context) (*Attestation, error) {
	raw, err := h.fetcher.FetchAttestationDocument(ctx, h.addr)
	if err != nil {
		return nil, err
	}
	doc, err := attestation.Open(raw, h.verifier)
	if err != nil {
		return nil, err
	}
	return &Attestation{Raw: raw, Document: doc, FetchedAt: h.now()}, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request) {
	a, err := h.cache.Get(r.Context(), h.now())
	if err != nil {
		h.writeFetchError(w, err)
		return
	}
	w.Header().Set("Content-Type", ContentTypeCBOR)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Raw)))
	_, _ = w.Write(a.Raw)
}

type pcrResponse struct {
	Index     uint   `json:"index"`
	Value     string `json:"value"`
	ModuleID  string `json:"module_id"`
	Timestamp uint64 `json:"timestamp"`
}

func (h *Handler) handlePCR(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index", "PCR index must be a non-negative integer")
		return
	}

	a, err := h.cache.Get(r.Context(), h.now())
	if err != nil {
		h.writeFetchError(w, err)
		return
	}
	value, err := a.Document.Register(uint(index))
	if err != nil {
		h.writeFetchError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pcrResponse{
		Index:     uint(index),
		Value:     hex.EncodeToString(value),
		ModuleID:  a.Document.ModuleID,
		Timestamp: a.Document.Timestamp,
	})
}

func (h *Handler) writeFetchError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Sugar().Errorw("Attestation request failed", "addr", h.addr.String(), "error", err)
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrLookup):
		return http.StatusNotFound, "register_not_found"
	case errors.Is(err, types.ErrVerification):
		return http.StatusBadGateway, "verification_failed"
	case errors.Is(err, types.ErrDecode):
		return http.StatusBadGateway, "malformed_document"
	case errors.Is(err, types.ErrProtocol):
		return http.StatusBadGateway, "protocol_error"
	case errors.Is(err, types.ErrConnection):
		return http.StatusServiceUnavailable, "enclave_unreachable"
	case errors.Is(err, types.ErrTransport):
		return http.StatusServiceUnavailable, "transport_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	var e apiError
	e.Error.Code = code
	e.Error.Message = msg
	_ = json.NewEncoder(w).Encode(e)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Sugar().Debugw("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
