package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/klyr/edgerewrite/internal/config"
	"github.com/klyr/edgerewrite/internal/htmlstream"
	"github.com/klyr/edgerewrite/internal/logging"
	"github.com/klyr/edgerewrite/internal/observability"
	"github.com/klyr/edgerewrite/internal/rules"
)

// statusClientClosed is recorded when the client went away before the response
// was complete.
const statusClientClosed = 499

// Reasons a rewrite-eligible response was sent unmodified.
const (
	PassthroughStatus      = "status"
	PassthroughContentType = "content_type"
	PassthroughMarked      = "already_rewritten"
	PassthroughEncoding    = "encoding"
	PassthroughNoBody      = "no_body"
)

type Gateway struct {
	router   *Router
	registry *rules.Registry
	proxy    *httputil.ReverseProxy

	stream         htmlstream.Options
	htmlTypes      map[string]struct{}
	responseMarker string

	accessLog *logging.AccessLogger
	metrics   *observability.Metrics
	log       logrus.FieldLogger
}

func New(cfg *config.Config, registry *rules.Registry) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	router, err := NewRouter(cfg)
	if err != nil {
		return nil, err
	}

	htmlTypes := make(map[string]struct{}, len(cfg.Rewrite.HTMLContentTypes))
	for _, ct := range cfg.Rewrite.HTMLContentTypes {
		htmlTypes[strings.ToLower(strings.TrimSpace(ct))] = struct{}{}
	}

	g := &Gateway{
		router:   router,
		registry: registry,
		stream: htmlstream.Options{
			MarkerAttribute: cfg.Rewrite.Marker(),
			FenceComment:    cfg.Rewrite.Fence(),
			MaxTokenBytes:   cfg.Rewrite.MaxTokenBytes,
		},
		htmlTypes:      htmlTypes,
		responseMarker: cfg.Rewrite.ResponseMarker,
		log:            logrus.StandardLogger(),
	}

	flush := cfg.Origin.FlushInterval
	if flush <= 0 {
		flush = -1
	}
	g.proxy = &httputil.ReverseProxy{
		Rewrite:        g.rewriteRequest,
		Transport:      newTransport(cfg.Origin.Timeout, cfg.Origin.MaxIdleConns),
		FlushInterval:  flush,
		ModifyResponse: g.modifyResponse,
		ErrorHandler:   g.handleError,
	}

	return g, nil
}

func (g *Gateway) SetAccessLogger(logger *logging.AccessLogger) {
	g.accessLog = logger
}

func (g *Gateway) SetMetrics(metrics *observability.Metrics) {
	g.metrics = metrics
}

func (g *Gateway) SetLogger(logger logrus.FieldLogger) {
	if logger != nil {
		g.log = logger
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := logging.AccessRecord{
		Timestamp: start.UTC(),
		RequestID: uuid.NewString(),
		ClientIP:  clientIP(r),
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     r.URL.RawQuery,
	}

	cls := g.router.Classify(r)
	rec.Action = cls.Action.String()
	rec.Host = cls.Host
	log := g.log.WithFields(logrus.Fields{"request_id": rec.RequestID, "action": rec.Action})

	if cls.Action == ShortCircuit {
		if cls.Err != nil {
			rec.Error = cls.Err.Error()
			log.WithError(cls.Err).Warn("request rejected")
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(cls.Status)
		_, _ = io.WriteString(w, cls.Body)
		rec.StatusCode = cls.Status
		g.finish(rec, start)
		return
	}

	ex := &exchange{classification: cls, log: log.WithField("host", cls.Host)}
	sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		// ReverseProxy aborts with ErrAbortHandler when the body copy fails
		// after the headers went out.
		p := recover()
		if p != nil && p != http.ErrAbortHandler {
			panic(p)
		}
		if p != nil {
			ex.abort(r.Context().Err() != nil)
		}
		rec.StatusCode = sw.status
		ex.fill(&rec)
		g.finish(rec, start)
		if p != nil {
			panic(p)
		}
	}()
	g.proxy.ServeHTTP(sw, r.WithContext(withExchange(r.Context(), ex)))
}

func (g *Gateway) rewriteRequest(pr *httputil.ProxyRequest) {
	ex := exchangeFrom(pr.In.Context())
	target := *ex.classification.Target
	pr.Out.URL = &target
	pr.Out.Host = ""
	pr.SetXForwarded()
}

func (g *Gateway) modifyResponse(resp *http.Response) error {
	ex := exchangeFrom(resp.Request.Context())
	if ex == nil || ex.classification.Action != ProxyAndRewrite {
		return nil
	}

	if reason := g.skipReason(resp); reason != "" {
		ex.passthrough = reason
		ex.log.WithField("reason", reason).Debug("response not rewritten")
		return nil
	}

	body, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return fmt.Errorf("decode %s body: %w", resp.Header.Get("Content-Encoding"), err)
	}

	opts := g.stream
	opts.Observer = ex
	resp.Body = htmlstream.NewReader(body, g.registry.Bindings(), opts)
	resp.ContentLength = -1
	resp.Header.Del("Content-Length")
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-MD5")
	if etag := resp.Header.Get("ETag"); strings.HasPrefix(etag, `"`) {
		resp.Header.Set("ETag", "W/"+etag)
	}
	resp.Header.Set(g.responseMarker, "1")
	ex.rewritten = true
	return nil
}

func (g *Gateway) skipReason(resp *http.Response) string {
	switch {
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return PassthroughStatus
	case resp.Request.Method == http.MethodHead,
		resp.StatusCode == http.StatusNoContent:
		return PassthroughNoBody
	case resp.Header.Get(g.responseMarker) != "":
		return PassthroughMarked
	case !g.isHTML(resp.Header.Get("Content-Type")):
		return PassthroughContentType
	case !decodable(resp.Header.Get("Content-Encoding")):
		return PassthroughEncoding
	}
	return ""
}

func (g *Gateway) isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	_, ok := g.htmlTypes[mediaType]
	return ok
}

func (g *Gateway) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ex := exchangeFrom(r.Context())

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		ex.clientGone = true
		ex.log.Debug("client went away before the origin answered")
		return
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		http.Error(w, "origin timeout", http.StatusGatewayTimeout)
	default:
		http.Error(w, "origin error", http.StatusBadGateway)
	}
	ex.err = err
	ex.log.WithError(err).Warn("origin request failed")
}

func (g *Gateway) finish(rec logging.AccessRecord, start time.Time) {
	rec.DurationMS = time.Since(start).Milliseconds()
	if g.accessLog != nil {
		if err := g.accessLog.Write(rec); err != nil {
			g.log.WithError(err).Error("write access log")
		}
	}
	g.metrics.Observe(rec)
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func newTransport(timeout time.Duration, maxIdle int) *http.Transport {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdle,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
}
