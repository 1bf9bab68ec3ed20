package gateway

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/klyr/edgerewrite/internal/config"
	"github.com/klyr/edgerewrite/internal/normalize"
)

var (
	// ErrMissingHost means the client did not say which host to proxy to.
	ErrMissingHost = errors.New("override host header missing")
	ErrInvalidHost = errors.New("override host header invalid")
)

type Action int

const (
	ShortCircuit Action = iota
	ProxyUnmodified
	ProxyAndRewrite
)

func (a Action) String() string {
	switch a {
	case ShortCircuit:
		return "short_circuit"
	case ProxyUnmodified:
		return "proxy"
	case ProxyAndRewrite:
		return "rewrite"
	default:
		return "unknown"
	}
}

// Classification is what the gateway does with one request. Status and Body
// are set for ShortCircuit, Target and Host for the proxy actions.
type Classification struct {
	Action Action
	Status int
	Body   string
	Target *url.URL
	Host   string
	Err    error
}

type Router struct {
	site         string
	scheme       string
	hostHeader   string
	bypassHeader string
	bypassToken  string
	acceptToken  string
	acceptMatch  string
	robotsPath   string
	robotsBody   string
}

func NewRouter(cfg *config.Config) (*Router, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	site, err := normalize.Host(cfg.Site)
	if err != nil {
		return nil, fmt.Errorf("site %q: %w", cfg.Site, err)
	}

	return &Router{
		site:         site,
		scheme:       cfg.Origin.Scheme,
		hostHeader:   cfg.Routing.HostHeader,
		bypassHeader: cfg.Routing.BypassHeader,
		bypassToken:  cfg.Routing.BypassToken,
		acceptToken:  strings.ToLower(cfg.Routing.AcceptToken),
		acceptMatch:  cfg.Routing.AcceptMatch,
		robotsPath:   cfg.Routing.RobotsPath,
		robotsBody:   cfg.Routing.RobotsBody,
	}, nil
}

// Classify decides how req is served. It never touches the network.
func (r *Router) Classify(req *http.Request) Classification {
	if req.URL.Path == r.robotsPath {
		return Classification{Action: ShortCircuit, Status: http.StatusOK, Body: r.robotsBody}
	}

	host := strings.TrimSpace(req.Header.Get(r.hostHeader))
	if host == "" {
		return Classification{
			Action: ShortCircuit,
			Status: http.StatusForbidden,
			Body:   r.hostHeader + " header missing",
			Err:    ErrMissingHost,
		}
	}
	hostname, err := normalize.Host(host)
	if err != nil {
		return Classification{
			Action: ShortCircuit,
			Status: http.StatusBadRequest,
			Body:   r.hostHeader + " header invalid",
			Host:   host,
			Err:    ErrInvalidHost,
		}
	}

	target := &url.URL{
		Scheme:   r.scheme,
		Host:     host,
		Path:     req.URL.Path,
		RawPath:  req.URL.RawPath,
		RawQuery: req.URL.RawQuery,
	}

	action := ProxyUnmodified
	if hostname == r.site && !r.bypassed(req) && r.acceptsHTML(req) {
		action = ProxyAndRewrite
	}
	return Classification{Action: action, Target: target, Host: host}
}

func (r *Router) bypassed(req *http.Request) bool {
	if r.bypassHeader == "" {
		return false
	}
	for _, v := range req.Header.Values(r.bypassHeader) {
		if strings.Contains(v, r.bypassToken) {
			return true
		}
	}
	return false
}

func (r *Router) acceptsHTML(req *http.Request) bool {
	accept := strings.ToLower(strings.Join(req.Header.Values("Accept"), ","))
	if accept == "" {
		return false
	}
	if r.acceptMatch != config.AcceptMediaType {
		return strings.Contains(accept, r.acceptToken)
	}

	for _, part := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil || mediaType != r.acceptToken {
			continue
		}
		if q, ok := params["q"]; ok && isZeroQ(q) {
			continue
		}
		return true
	}
	return false
}

func isZeroQ(q string) bool {
	f, err := strconv.ParseFloat(strings.TrimSpace(q), 64)
	return err == nil && f == 0
}
