package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/nats-io/nats.go"

	"github.com/mirador/txwatch/internal/chain"
	"github.com/mirador/txwatch/internal/registry"
	"github.com/mirador/txwatch/internal/sink"
	"github.com/mirador/txwatch/internal/store"
	"github.com/mirador/txwatch/internal/watch"
)

// WatchRequest is the JSON payload consumed from the requests subject.
type WatchRequest struct {
	TxHash string `json:"tx_hash"`

	// ConfirmationBlocks optionally overrides the configured threshold.
	ConfirmationBlocks uint64 `json:"confirmation_blocks,omitempty"`
}

// chainSource is what the daemon needs from the chain client: the block
// source for watches plus receipt lookup.
type chainSource interface {
	watch.BlockSource
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Service is the confirmd daemon: it consumes watch requests, resolves
// receipts, runs confirmation watches, and fans events out to the
// configured sinks.
type Service struct {
	cfg    *Config
	logger *slog.Logger

	client    chainSource
	rpcClient *chain.Client
	reqConn   *nats.Conn

	natsSink  *sink.NATS
	kafkaSink *sink.Kafka
	wsHub     *sink.WSHub
	reg       *registry.RedisRegistry
	auditor   *store.Store

	wg sync.WaitGroup
}

func New(cfg *Config, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger.With("component", "confirmd"),
	}
}

// Run starts the daemon and blocks until the context ends or a component
// fails.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting confirmd",
		"rpc_url", s.cfg.RPC.URL,
		"requests_subject", s.cfg.Requests.Subject,
	)

	if err := s.connect(ctx); err != nil {
		return err
	}
	defer s.disconnect()

	errCh := make(chan error, 2)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		errCh <- s.consumeRequests(ctx)
	}()

	if s.cfg.WS.Enabled {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			errCh <- s.serveWS(ctx)
		}()
	}

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		s.logger.Info("confirmd shutting down")
		err = ctx.Err()
	}

	s.wg.Wait()
	return err
}

func (s *Service) connect(ctx context.Context) error {
	s.rpcClient = chain.NewClient(s.cfg.RPC, s.logger)
	if err := s.rpcClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to RPC: %w", err)
	}
	s.client = s.rpcClient

	var err error
	s.reqConn, err = nats.Connect(s.cfg.Requests.URL, nats.Name("txwatch-confirmd"))
	if err != nil {
		return fmt.Errorf("connect to request bus: %w", err)
	}

	if s.cfg.NATS.Enabled {
		s.natsSink, err = sink.ConnectNATS(s.cfg.NATS.NATSConfig)
		if err != nil {
			return fmt.Errorf("connect NATS sink: %w", err)
		}
	}
	if s.cfg.Kafka.Enabled {
		s.kafkaSink, err = sink.ConnectKafka(s.cfg.Kafka.KafkaConfig)
		if err != nil {
			return fmt.Errorf("connect Kafka sink: %w", err)
		}
	}
	if s.cfg.Redis.Enabled {
		s.reg, err = registry.NewRedisRegistry(s.cfg.Redis.RedisConfig)
		if err != nil {
			return fmt.Errorf("connect watch registry: %w", err)
		}
	}
	if s.cfg.Postgres.Enabled {
		s.auditor, err = store.New(ctx, s.cfg.Postgres.Config)
		if err != nil {
			return fmt.Errorf("connect audit store: %w", err)
		}
		if err := s.auditor.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate audit store: %w", err)
		}
	}
	if s.cfg.WS.Enabled {
		s.wsHub = sink.NewWSHub(s.logger)
	}

	return nil
}

func (s *Service) disconnect() {
	if s.reqConn != nil {
		s.reqConn.Close()
	}
	if s.natsSink != nil {
		if err := s.natsSink.Close(); err != nil {
			s.logger.Warn("NATS sink close failed", "error", err)
		}
	}
	if s.kafkaSink != nil {
		s.kafkaSink.Close()
	}
	if s.reg != nil {
		s.reg.Close()
	}
	if s.auditor != nil {
		s.auditor.Close()
	}
	if s.rpcClient != nil {
		s.rpcClient.Close()
	}
	s.logger.Info("disconnected")
}

// consumeRequests drains the watch-request subject and starts a watch per
// request.
func (s *Service) consumeRequests(ctx context.Context) error {
	msgCh := make(chan *nats.Msg, 64)
	sub, err := s.reqConn.ChanSubscribe(s.cfg.Requests.Subject, msgCh)
	if err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	defer sub.Unsubscribe()

	s.logger.Info("consuming watch requests", "subject", s.cfg.Requests.Subject)

	tracker := watch.NewTracker(s.client, s.cfg.Watch, s.logger)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgCh:
			s.dispatch(ctx, tracker, msg.Data)
		}
	}
}

// dispatch decodes one watch request and starts it in its own goroutine.
// The receipt wait can block for the full receipt timeout, so it must never
// run on the subscription drain loop: a stalled drain loop would overflow
// msgCh and drop later requests.
func (s *Service) dispatch(ctx context.Context, tracker *watch.Tracker, data []byte) {
	var req WatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Warn("malformed watch request", "error", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.startWatch(ctx, tracker, req); err != nil {
			s.logger.Error("failed to start watch", "tx", req.TxHash, "error", err)
		}
	}()
}

func (s *Service) startWatch(ctx context.Context, tracker *watch.Tracker, req WatchRequest) error {
	if req.TxHash == "" {
		return fmt.Errorf("watch request without tx_hash")
	}
	txHash := common.HexToHash(req.TxHash)

	receipt, err := s.waitReceipt(ctx, txHash)
	if err != nil {
		return fmt.Errorf("resolve receipt: %w", err)
	}

	tr := tracker
	if req.ConfirmationBlocks > 0 {
		cfg := s.cfg.Watch
		cfg.ConfirmationBlocks = req.ConfirmationBlocks
		tr = watch.NewTracker(s.client, cfg, s.logger)
	}

	emitter, updater := s.buildEmitter()

	w, err := tr.WatchForConfirmations(ctx, emitter, receipt)
	if err != nil {
		return err
	}

	if s.reg != nil {
		entry := &registry.Entry{
			ID:            w.ID(),
			TxHash:        receipt.TxHash.Hex(),
			BlockNumber:   receipt.BlockNumber.Uint64(),
			Threshold:     s.threshold(req),
			Confirmations: 1,
			Mode:          s.mode(),
		}
		if err := s.reg.Register(ctx, entry); err != nil {
			s.logger.Warn("watch registration failed", "watch_id", w.ID(), "error", err)
		}
		if err := updater.Bind(ctx, w.ID()); err != nil {
			s.logger.Warn("watch progress bind failed", "watch_id", w.ID(), "error", err)
		}
	}

	s.logger.Info("watch started",
		"watch_id", w.ID(),
		"tx", receipt.TxHash.Hex(),
		"block", receipt.BlockNumber.Uint64(),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case err := <-w.Err():
			s.logger.Error("watch failed", "watch_id", w.ID(), "error", err)
		case <-w.Done():
		}
		if s.reg != nil {
			if err := s.reg.Complete(context.Background(), w.ID()); err != nil {
				s.logger.Warn("watch completion cleanup failed", "watch_id", w.ID(), "error", err)
			}
		}
		s.logger.Info("watch finished", "watch_id", w.ID())
	}()

	return nil
}

// buildEmitter assembles the fan-out chain for one watch.
func (s *Service) buildEmitter() (watch.Emitter, *registry.Updater) {
	emitters := watch.MultiEmitter{sink.NewLog(s.logger)}
	if s.natsSink != nil {
		emitters = append(emitters, s.natsSink)
	}
	if s.kafkaSink != nil {
		emitters = append(emitters, s.kafkaSink)
	}
	if s.wsHub != nil {
		emitters = append(emitters, s.wsHub)
	}
	if s.auditor != nil {
		emitters = append(emitters, s.auditor)
	}

	var updater *registry.Updater
	if s.reg != nil {
		updater = registry.NewUpdater(s.reg)
		emitters = append(emitters, updater)
	}
	return emitters, updater
}

// waitReceipt polls for the transaction receipt until it appears or the
// receipt timeout elapses. Watch requests may arrive before the transaction
// is mined.
func (s *Service) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	timeout := s.cfg.Requests.ReceiptTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transaction not mined within %s: %w", timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Health reports whether the daemon can reach its RPC endpoint.
func (s *Service) Health(ctx context.Context) error {
	if s.rpcClient == nil || !s.rpcClient.IsConnected() {
		return fmt.Errorf("RPC client not connected")
	}
	if _, err := s.rpcClient.BlockNumber(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (s *Service) serveWS(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.WS.Path, s.wsHub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Health(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    s.cfg.WS.Listen,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("serving confirmation stream", "listen", s.cfg.WS.Listen, "path", s.cfg.WS.Path)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws server: %w", err)
	}
	return ctx.Err()
}

func (s *Service) threshold(req WatchRequest) uint64 {
	if req.ConfirmationBlocks > 0 {
		return req.ConfirmationBlocks
	}
	if s.cfg.Watch.ConfirmationBlocks > 0 {
		return s.cfg.Watch.ConfirmationBlocks
	}
	return watch.DefaultConfirmationBlocks
}

func (s *Service) mode() string {
	if s.client.SupportsSubscriptions() {
		return "subscription"
	}
	return "polling"
}
