// Package proxy is C7, the HTTP edge: wildcard upstream routing, SSRF
// validation, header forwarding, request logging, metrics, ingress rate
// limiting, and the glue that engages C3/C4/C5 only for chat-completions
// traffic.
package proxy

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/relaymark/relaymark/internal/config"
	"github.com/relaymark/relaymark/internal/markers"
	"github.com/relaymark/relaymark/internal/protocol"
	"github.com/relaymark/relaymark/internal/transcode"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 50 << 20 // 50 MiB ingress buffering bound.

// forwardedHeaders is the whitelist of inbound headers copied to the
// upstream call.
var forwardedHeaders = []string{"Authorization", "x-api-key", "anthropic-version"}

// sseFlushWriter flushes the underlying ResponseWriter after every write so
// SSE frames reach the client as they're produced rather than once buffered.
type sseFlushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw sseFlushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil {
		fw.f.Flush()
	}
	return n, err
}

// Server is C7: it owns the marker set for the process lifetime and wires
// C3/C4/C5/C6 into a single wildcard HTTP route.
type Server struct {
	cfg        config.Config
	markers    markers.Set
	httpClient HTTPClient
	mux        *http.ServeMux
	logger     zerolog.Logger
	limiter    *ingressLimiter
	metrics    *metricsSet
	registry   *prometheus.Registry
}

// New builds a Server with a freshly drawn marker set (markers.MustNew) —
// one set for the lifetime of this Server, shared read-only across every
// request it handles, never regenerated per-request.
func New(cfg config.Config, logger zerolog.Logger) *Server {
	registry := prometheus.NewRegistry()
	s := &Server{
		cfg:        cfg,
		markers:    markers.MustNew(),
		httpClient: NewHTTPClient(),
		mux:        http.NewServeMux(),
		logger:     logger,
		limiter:    newIngressLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		metrics:    newMetricsSet(registry),
		registry:   registry,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/healthz", s.healthHandler)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/", s.upstreamHandler)
}

// ServeHTTP is the entry point both cmd/relaymarkd's net/http.ListenAndServe
// and cmd/relaymark-worker's workers.Serve call — the same handler serves
// both deployment targets. Paths of the form /<http(s) URL> go straight to
// upstreamHandler, since http.ServeMux's path cleaning would collapse the
// "//" after the URL scheme and answer with a redirect; every other path
// (/healthz, /metrics, ...) goes through the mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var next http.Handler = s.mux
	if _, ok := extractUpstreamURL(r.URL.Path); ok {
		next = http.HandlerFunc(s.upstreamHandler)
	}
	s.loggingMiddleware(s.rateLimitMiddleware(next)).ServeHTTP(w, r)
}

// loggingMiddleware tags every request with a correlation id, returned in
// the X-Request-Id header, so its incoming/finished log lines can be tied
// together. The per-request JSON log file carries its own, separate id.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("remote_addr", r.RemoteAddr).
			Msg("incoming request")
		next.ServeHTTP(w, r)
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Dur("duration", time.Since(start)).
			Msg("finished request")
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(r.RemoteAddr) {
			writeRateLimited(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// upstreamHandler implements the wildcard route: extract and validate the
// upstream URL, buffer and (if chat-completions and applicable) rewrite the
// body, dispatch, and stream or buffer the response back.
func (s *Server) upstreamHandler(w http.ResponseWriter, r *http.Request) {
	upstreamRaw, ok := extractUpstreamURL(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	upstreamURL, err := validateUpstream(upstreamRaw, s.cfg.AllowLocalNet)
	if err != nil {
		if secErr, isSecErr := err.(*securityError); isSecErr {
			s.metrics.requestsTotal.WithLabelValues(routeLabel(r.URL.Path), "403").Inc()
			writeSecurityError(w, secErr)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("error reading request body")
		http.Error(w, "request body too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}
	defer r.Body.Close()

	isChatCompletions := strings.Contains(upstreamURL.String(), "/chat/completions")

	var reqLog *requestLog
	if s.cfg.LogEnabled {
		reqLog, err = newRequestLog(s.cfg.LogDir, time.Now().UnixMilli())
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to start request log")
		}
	}
	if reqLog != nil {
		reqLog.record("inbound", time.Now().UnixMilli(), string(bodyBytes))
		defer func() {
			if err := reqLog.flush(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to flush request log")
			}
		}()
	}

	outboundBody := bodyBytes
	var chatReq *protocol.ChatRequest
	var streamTranscode bool

	if isChatCompletions && r.Method == http.MethodPost {
		var parsed protocol.ChatRequest
		if err := json.Unmarshal(bodyBytes, &parsed); err == nil {
			chatReq = &parsed
			streamTranscode = chatReq.HasTools() && chatReq.Stream
			rewritten := transcode.RewriteRequest(chatReq, s.markers)
			if outboundBody, err = json.Marshal(rewritten); err != nil {
				s.logger.Error().Err(err).Msg("error marshalling rewritten request")
				http.Error(w, "failed to prepare upstream request", http.StatusInternalServerError)
				return
			}
		} else {
			s.logger.Warn().Err(err).Msg("chat-completions body did not parse; forwarding verbatim")
		}
	}

	if reqLog != nil {
		reqLog.record("rewritten", time.Now().UnixMilli(), string(outboundBody))
	}

	proxyReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), bytes.NewReader(outboundBody))
	if err != nil {
		http.Error(w, "failed to build upstream request", http.StatusInternalServerError)
		return
	}
	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			proxyReq.Header.Set(h, v)
		}
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		proxyReq.Header.Set("Content-Type", "application/json")
	}

	dispatchStart := time.Now()
	resp, err := s.httpClient.Do(proxyReq)
	if reqLog != nil {
		reqLog.record("upstream_dispatch", time.Now().UnixMilli(), "")
	}
	route := routeLabel(r.URL.Path)
	s.metrics.upstreamDuration.WithLabelValues(route).Observe(time.Since(dispatchStart).Seconds())
	if err != nil {
		s.logger.Error().Err(err).Msg("upstream dispatch failed")
		s.metrics.requestsTotal.WithLabelValues(route, "502").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"message":"upstream request failed","type":"proxy_error"}}`))
		return
	}
	defer resp.Body.Close()

	s.metrics.requestsTotal.WithLabelValues(route, statusLabel(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		s.writeUpstreamBody(w, resp)
		if reqLog != nil {
			reqLog.record("outbound", time.Now().UnixMilli(), "upstream_error")
		}
		return
	}

	mediaType := mediaTypeOf(resp.Header.Get("Content-Type"))

	switch {
	case mediaType == "text/event-stream" && streamTranscode:
		s.streamTranscoded(w, resp, chatReq.Model)
	case mediaType == "text/event-stream":
		s.streamPassthrough(w, resp)
	case isChatCompletions && chatReq != nil:
		s.writeTranscodedResponse(w, resp)
	default:
		s.writeUpstreamBody(w, resp)
	}

	if reqLog != nil {
		reqLog.record("outbound", time.Now().UnixMilli(), "")
	}
}

func (s *Server) writeUpstreamBody(w http.ResponseWriter, resp *http.Response) {
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Error().Err(err).Msg("error copying upstream body to client")
	}
}

// writeTranscodedResponse is the C4 path: a complete, non-streaming
// chat-completions response gets parsed, run through the delimiter-aware
// extractor, and re-emitted with tool_calls populated where found.
func (s *Server) writeTranscodedResponse(w http.ResponseWriter, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("error reading upstream response body")
		http.Error(w, "failed to read upstream response", http.StatusInternalServerError)
		return
	}

	var chatResp protocol.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		w.Write(body)
		return
	}

	before := len(chatResp.Choices)
	transcode.RewriteResponse(&chatResp, s.markers)
	if before > 0 && len(chatResp.Choices[0].Message.ToolCalls) > 0 {
		s.metrics.toolCallsTotal.Add(float64(len(chatResp.Choices[0].Message.ToolCalls)))
	}

	out, err := json.Marshal(chatResp)
	if err != nil {
		s.logger.Error().Err(err).Msg("error marshalling transcoded response")
		http.Error(w, "failed to prepare response", http.StatusInternalServerError)
		return
	}

	header := w.Header()
	copyHeaders(header, resp.Header)
	header.Del("Content-Length")
	header.Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(out)
}

// streamTranscoded is the C5 path.
func (s *Server) streamTranscoded(w http.ResponseWriter, resp *http.Response, model string) {
	_, out := s.sseWriter(w, resp)
	if err := transcode.RewriteStream(resp.Body, out, model, s.markers); err != nil {
		s.logger.Error().Err(err).Msg("stream transcoding ended with error")
	}
}

// streamPassthrough copies SSE bytes through untouched — used whenever the
// chat-completions detection or tool/stream gating doesn't call for C5.
func (s *Server) streamPassthrough(w http.ResponseWriter, resp *http.Response) {
	_, out := s.sseWriter(w, resp)
	if _, err := io.Copy(out, resp.Body); err != nil {
		s.logger.Error().Err(err).Msg("error copying upstream SSE body to client")
	}
}

func (s *Server) sseWriter(w http.ResponseWriter, resp *http.Response) (http.Flusher, io.Writer) {
	header := w.Header()
	copyHeaders(header, resp.Header)
	header.Del("Content-Length")
	header.Set("Content-Type", "text/event-stream; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		s.logger.Warn().Msg("response writer does not support flushing; streaming may be buffered")
		return nil, w
	}
	flusher.Flush()
	return flusher, sseFlushWriter{w: w, f: flusher}
}

func copyHeaders(dst http.Header, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func mediaTypeOf(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	return mt
}

func routeLabel(path string) string {
	if strings.Contains(path, "/chat/completions") {
		return "chat_completions"
	}
	return "passthrough"
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
