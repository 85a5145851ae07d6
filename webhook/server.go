// Package webhook is the HTTP intake: charting-tool alerts arrive on
// POST /webhook and operators read state from /status, /metrics and the
// /events websocket.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/engine"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/logging"
	"github.com/rustyeddy/autotrader/scorer"
	"github.com/rustyeddy/autotrader/signal"
)

const maxBody = 64 << 10

// SecretHeader carries the webhook secret on operator endpoints.
const SecretHeader = "X-Webhook-Secret"

// Pipeline is the part of the coordinator the server drives.
type Pipeline interface {
	Submit(ctx context.Context, sig signal.Signal) engine.Result
	Status() engine.Status
	ResetDay(ctx context.Context) ledger.DailyStats
}

type Options struct {
	Config   config.WebhookConfig
	Pipeline Pipeline
	Scorer   scorer.Scorer
	Hub      *Hub
	Logger   *logging.Logger

	// Candles, when set, gives the scorer market context for alerts
	// without a confidence.
	Candles     broker.CandleSource
	Granularity string
	CandleCount int
}

type Server struct {
	opts   Options
	secret string
	log    *logging.Logger
	http   *http.Server
}

// Response is the body of every /webhook reply.
type Response struct {
	Status    string `json:"status"` // accepted, rejected or failed
	Message   string `json:"message"`
	SignalID  string `json:"signal_id,omitempty"`
	TradeID   string `json:"trade_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id"`
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Scorer == nil {
		opts.Scorer = scorer.Static{}
	}
	s := &Server{opts: opts, secret: opts.Config.Secret, log: opts.Logger}
	s.http = &http.Server{
		Addr:              opts.Config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          log.New(opts.Logger.Writer(), "http: ", 0),
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.Handle("GET /status", s.operator(http.HandlerFunc(s.handleStatus)))
	mux.Handle("POST /reset-day", s.operator(http.HandlerFunc(s.handleResetDay)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.opts.Hub != nil {
		mux.Handle("GET /events", s.operator(s.opts.Hub))
	}
	return mux
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.log.WithComponent("webhook").WithField("addr", ln.Addr().String()).Info("http server listening")

	errc := make(chan error, 1)
	go func() { errc <- s.http.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.http.Shutdown(sctx); err != nil {
		return err
	}
	if s.opts.Hub != nil {
		_ = s.opts.Hub.Close()
	}
	return nil
}

// operator guards endpoints that expose or change trading state. When a
// secret is configured the request must present it in SecretHeader.
func (s *Server) operator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret != "" && !s.validSecret(r.Header.Get(SecretHeader)) {
			s.log.WithComponent("webhook").WithFields(logrus.Fields{
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Warn("operator request without valid secret")
			writeJSON(w, http.StatusUnauthorized, Response{
				Status: "rejected", Message: "secret mismatch", Reason: "unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validSecret(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) == 1
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", reqID)
	entry := s.log.WithRequestID(reqID).WithField("component", "webhook")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil || !json.Valid(body) {
		entry.Warn("malformed webhook body")
		writeJSON(w, http.StatusBadRequest, Response{
			Status: "error", Message: "malformed JSON", RequestID: reqID,
		})
		return
	}

	reject := func(reason, msg string) {
		entry.WithField("reason", reason).Info(msg)
		writeJSON(w, http.StatusOK, Response{
			Status: "rejected", Message: msg, Reason: reason, RequestID: reqID,
		})
	}

	p, err := decodePayload(body)
	if err != nil {
		reject("invalid_signal", err.Error())
		return
	}
	if s.secret != "" && !s.validSecret(p.Secret) {
		reject("unauthorized", "secret mismatch")
		return
	}

	draft, scored, err := p.Draft()
	if err != nil {
		reject("invalid_signal", err.Error())
		return
	}
	if !scored {
		draft.Confidence = s.score(r.Context(), draft, entry)
	}
	sig, err := signal.New(draft, time.Now())
	if err != nil {
		reject("invalid_signal", err.Error())
		return
	}

	res := s.opts.Pipeline.Submit(r.Context(), sig)
	resp := Response{
		SignalID:  res.SignalID,
		TradeID:   res.TradeID,
		Reason:    res.Reason,
		RequestID: reqID,
	}
	switch res.State {
	case engine.StateOpen:
		resp.Status = "accepted"
		resp.Message = "trade opened"
	case engine.StateRejected:
		resp.Status = "rejected"
		resp.Message = res.Detail
	default:
		resp.Status = "failed"
		resp.Message = res.Detail
	}
	entry.WithFields(logrus.Fields{
		"signal_id": res.SignalID,
		"state":     res.State,
		"reason":    res.Reason,
	}).Info("webhook handled")
	writeJSON(w, http.StatusOK, resp)
}

// score fills a missing confidence. A failing scorer yields 0 so the
// confidence rule rejects the signal.
func (s *Server) score(ctx context.Context, draft signal.Signal, entry *logrus.Entry) float64 {
	var mc scorer.MarketContext
	if s.opts.Candles != nil {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		candles, err := s.opts.Candles.Candles(cctx, draft.Instrument, s.opts.Granularity, s.opts.CandleCount)
		cancel()
		if err != nil {
			entry.WithError(err).Warn("candles for scoring")
		}
		mc.Candles = candles
	}
	conf, err := s.opts.Scorer.Score(ctx, draft, mc)
	if err != nil {
		entry.WithError(err).Warn("scorer failed")
		return 0
	}
	return conf
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Pipeline.Status())
}

func (s *Server) handleResetDay(w http.ResponseWriter, r *http.Request) {
	daily := s.opts.Pipeline.ResetDay(r.Context())
	s.log.WithComponent("webhook").WithField("day", daily.Day).Warn("daily stats reset by operator")
	writeJSON(w, http.StatusOK, daily)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
