package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/klyr/edgerewrite/internal/logging"
)

type exchangeKey struct{}

var errBodyAborted = errors.New("response body aborted")

// exchange carries per-request state between ServeHTTP and the proxy hooks.
// The rewriter reports into it while the body streams.
type exchange struct {
	classification Classification
	log            logrus.FieldLogger

	mu          sync.Mutex
	applied     map[string]int
	failed      map[string]int
	passthrough string
	rewritten   bool
	clientGone  bool
	err         error
}

func withExchange(ctx context.Context, ex *exchange) context.Context {
	return context.WithValue(ctx, exchangeKey{}, ex)
}

func exchangeFrom(ctx context.Context) *exchange {
	ex, _ := ctx.Value(exchangeKey{}).(*exchange)
	return ex
}

func (ex *exchange) RuleApplied(id string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.applied == nil {
		ex.applied = make(map[string]int)
	}
	ex.applied[id]++
}

func (ex *exchange) RuleFailed(id string, err error) {
	ex.mu.Lock()
	if ex.failed == nil {
		ex.failed = make(map[string]int)
	}
	ex.failed[id]++
	ex.mu.Unlock()
	ex.log.WithError(err).WithField("rule", id).Warn("rule failed, element left unchanged")
}

func (ex *exchange) Passthrough(reason string) {
	ex.mu.Lock()
	ex.passthrough = reason
	ex.mu.Unlock()
	ex.log.WithField("reason", reason).Warn("rewrite abandoned, streaming the rest unmodified")
}

// abort records a response cut off while its body streamed.
func (ex *exchange) abort(clientGone bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if clientGone {
		ex.clientGone = true
		ex.log.Debug("client went away during the response")
		return
	}
	ex.err = errBodyAborted
	ex.log.Warn("response body aborted")
}

// fill copies the outcome into rec once the body has been streamed.
func (ex *exchange) fill(rec *logging.AccessRecord) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.clientGone {
		rec.StatusCode = statusClientClosed
	}
	rec.Rewritten = ex.rewritten
	rec.Passthrough = ex.passthrough
	rec.RulesApplied = logging.Counts(ex.applied)
	rec.RuleErrors = logging.Counts(ex.failed)
	if ex.err != nil {
		rec.Error = ex.err.Error()
	}
}
