// Package gateway is the external HTTP and WebSocket surface. Handlers
// validate inputs, resolve the caller's identity, call into the domain
// components, and serialize results; the hub fans bus events out to
// subscribed sockets in commit order per topic.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fleetworks/fleetd/internal/blackboard"
	"github.com/fleetworks/fleetd/internal/bus"
	"github.com/fleetworks/fleetd/internal/credits"
	"github.com/fleetworks/fleetd/internal/metrics"
	"github.com/fleetworks/fleetd/internal/planner"
	"github.com/fleetworks/fleetd/internal/scheduler"
	"github.com/fleetworks/fleetd/internal/store"
	"github.com/fleetworks/fleetd/internal/supervisor"
)

// Config carries the gateway's own settings; the composition root maps
// the file config onto it.
type Config struct {
	Host         string
	Port         int
	Secret       string // HS256 signing secret
	RateLimitRPM int    // 0 disables
	Version      string
}

// Server wires every domain component behind the HTTP mux.
type Server struct {
	cfg       Config
	stores    *store.Stores
	super     *supervisor.Supervisor
	planner   *planner.Planner
	board     *blackboard.Board
	ledger    *credits.Ledger
	scheduler *scheduler.Scheduler
	bus       *bus.Bus
	hub       *Hub
	metrics   *metrics.Metrics
	limiter   *RateLimiter
	log       *slog.Logger

	secret    []byte
	startedAt time.Time

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(
	cfg Config,
	stores *store.Stores,
	super *supervisor.Supervisor,
	pl *planner.Planner,
	board *blackboard.Board,
	ledger *credits.Ledger,
	sched *scheduler.Scheduler,
	b *bus.Bus,
	m *metrics.Metrics,
	log *slog.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		stores:    stores,
		super:     super,
		planner:   pl,
		board:     board,
		ledger:    ledger,
		scheduler: sched,
		bus:       b,
		hub:       NewHub(log),
		metrics:   m,
		limiter:   NewRateLimiter(cfg.RateLimitRPM, 5),
		log:       log,
		secret:    []byte(cfg.Secret),
		startedAt: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	b.Subscribe("gateway", s.hub.OnBusEvent)
	return s
}

// Hub exposes the socket map for tests.
func (s *Server) Hub() *Hub { return s.hub }

// BuildMux registers every route. Idempotent; cached after first call.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	s.route(mux, "GET /health", s.handleHealth)
	s.route(mux, "POST /auth", s.handleAuth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	// Identity
	s.route(mux, "GET /users/{uid}", s.requireAuth("", s.handleGetUser))
	s.route(mux, "GET /teams/{team}/agents", s.requireTeam("", s.handleTeamAgents))

	// Chats
	s.route(mux, "GET /users/{uid}/chats", s.requireAuth(PermChat, s.handleUserChats))
	s.route(mux, "POST /chats", s.requireAuth(PermChat, s.handleCreateChat))
	s.route(mux, "GET /chats/{id}/messages", s.requireAuth(PermChat, s.handleGetMessages))
	s.route(mux, "POST /chats/{id}/messages", s.requireAuth(PermChat, s.handlePostMessage))
	s.route(mux, "POST /chats/{id}/read", s.requireAuth(PermChat, s.handleMarkChatRead))
	s.route(mux, "POST /teams/{team}/broadcast", s.requireTeam(PermBroadcast, s.handleBroadcast))

	// Tasks
	s.route(mux, "POST /tasks", s.requireAuth(PermTasks, s.handleCreateTask))
	s.route(mux, "GET /teams/{team}/tasks", s.requireTeam(PermTasks, s.handleTeamTasks))
	s.route(mux, "PATCH /tasks/{id}", s.requireAuth(PermTasks, s.handlePatchTask))

	// Orchestration
	s.route(mux, "POST /orchestrate/workers", s.requireAuth(PermOrchestrate, s.handleSpawnWorker))
	s.route(mux, "GET /orchestrate/workers", s.requireAuth("", s.handleListWorkers))
	s.route(mux, "DELETE /orchestrate/workers/{handle}", s.requireAuth(PermOrchestrate, s.handleDismissWorker))
	s.route(mux, "POST /orchestrate/workers/{handle}/message", s.requireAuth(PermOrchestrate, s.handleMessageWorker))
	s.route(mux, "GET /orchestrate/workers/{handle}/output", s.requireAuth("", s.handleWorkerOutput))

	// Blackboard
	s.route(mux, "POST /blackboard", s.requireAuth(PermBlackboard, s.handleBlackboardPost))
	s.route(mux, "GET /blackboard", s.requireAuth(PermBlackboard, s.handleBlackboardRead))
	s.route(mux, "POST /blackboard/mark-read", s.requireAuth(PermBlackboard, s.handleBlackboardMarkRead))
	s.route(mux, "POST /blackboard/archive", s.requireAuth(PermBlackboard, s.handleBlackboardArchive))
	s.route(mux, "POST /blackboard/archive-old", s.requireAuth(PermBlackboard, s.handleBlackboardArchiveOld))
	s.route(mux, "POST /blackboard/tally", s.requireAuth(PermBlackboard, s.handleBlackboardTally))
	s.route(mux, "POST /blackboard/payoff", s.requireAuth(PermBlackboard, s.handleBlackboardPayoff))

	// Spawn queue
	s.route(mux, "POST /spawn-queue", s.requireAuth(PermOrchestrate, s.handleEnqueueSpawn))
	s.route(mux, "GET /spawn-queue", s.requireAuth("", s.handleListSpawnQueue))
	s.route(mux, "GET /spawn-queue/{id}", s.requireAuth("", s.handleGetSpawnItem))
	s.route(mux, "DELETE /spawn-queue/{id}", s.requireAuth(PermOrchestrate, s.handleCancelSpawnItem))

	// Checkpoints
	s.route(mux, "POST /checkpoints", s.requireAuth(PermTasks, s.handleCreateCheckpoint))
	s.route(mux, "GET /checkpoints", s.requireAuth("", s.handleListCheckpoints))
	s.route(mux, "GET /checkpoints/{handle}/latest", s.requireAuth("", s.handleLatestCheckpoint))
	s.route(mux, "POST /checkpoints/{id}/accept", s.requireAuth(PermTasks, s.handleResolveCheckpoint(store.CheckpointStatusAccepted)))
	s.route(mux, "POST /checkpoints/{id}/reject", s.requireAuth(PermTasks, s.handleResolveCheckpoint(store.CheckpointStatusRejected)))

	// Swarms
	s.route(mux, "POST /swarms", s.requireAuth(PermOrchestrate, s.handleCreateSwarm))
	s.route(mux, "GET /swarms", s.requireAuth("", s.handleListSwarms))
	s.route(mux, "DELETE /swarms/{id}", s.requireAuth(PermOrchestrate, s.handleDeleteSwarm))

	// Scheduler
	s.route(mux, "GET /scheduler/status", s.requireAuth("", s.handleSchedulerStatus))
	s.route(mux, "POST /scheduler/start", s.requireAuth(PermScheduler, s.handleSchedulerStart))
	s.route(mux, "POST /scheduler/stop", s.requireAuth(PermScheduler, s.handleSchedulerStop))
	s.route(mux, "POST /scheduler/schedules", s.requireAuth(PermScheduler, s.handleCreateSchedule))
	s.route(mux, "GET /scheduler/schedules", s.requireAuth("", s.handleListSchedules))
	s.route(mux, "GET /scheduler/schedules/{id}", s.requireAuth("", s.handleGetSchedule))
	s.route(mux, "PATCH /scheduler/schedules/{id}", s.requireAuth(PermScheduler, s.handleUpdateSchedule))
	s.route(mux, "DELETE /scheduler/schedules/{id}", s.requireAuth(PermScheduler, s.handleDeleteSchedule))
	s.route(mux, "POST /scheduler/templates", s.requireAuth(PermScheduler, s.handleCreateTemplate))
	s.route(mux, "GET /scheduler/templates", s.requireAuth("", s.handleListTemplates))
	s.route(mux, "DELETE /scheduler/templates/{id}", s.requireAuth(PermScheduler, s.handleDeleteTemplate))

	// Credits
	s.route(mux, "GET /credits/{swarmId}/leaderboard", s.requireAuth(PermCredits, s.handleLeaderboard))
	s.route(mux, "GET /credits/{swarmId}/{handle}", s.requireAuth(PermCredits, s.handleGetAccount))
	s.route(mux, "GET /credits/{swarmId}/{handle}/transactions", s.requireAuth(PermCredits, s.handleListTransactions))
	s.route(mux, "POST /credits/tx", s.requireAuth(PermCredits, s.handleRecordTx))
	s.route(mux, "POST /credits/transfer", s.requireAuth(PermCredits, s.handleTransfer))
	s.route(mux, "POST /credits/decay", s.requireAuth(PermAdmin, s.handleDecay))

	// Work items, batches, bids
	s.route(mux, "POST /work-items", s.requireAuth(PermWorkItems, s.handleCreateWorkItem))
	s.route(mux, "GET /work-items", s.requireAuth("", s.handleListWorkItems))
	s.route(mux, "GET /work-items/{id}", s.requireAuth("", s.handleGetWorkItem))
	s.route(mux, "PATCH /work-items/{id}", s.requireAuth(PermWorkItems, s.handlePatchWorkItem))
	s.route(mux, "POST /work-items/{id}/assign", s.requireAuth(PermWorkItems, s.handleAssignWorkItem))
	s.route(mux, "POST /work-items/{id}/bids", s.requireAuth(PermWorkItems, s.handlePlaceBid))
	s.route(mux, "GET /work-items/{id}/bids", s.requireAuth("", s.handleListBids))
	s.route(mux, "POST /work-items/{id}/award", s.requireAuth(PermWorkItems, s.handleAwardWorkItem))
	s.route(mux, "POST /work-items/route", s.requireAuth(PermWorkItems, s.handleRouteTasks))
	s.route(mux, "POST /batches", s.requireAuth(PermWorkItems, s.handleCreateBatch))
	s.route(mux, "GET /batches/{id}/items", s.requireAuth("", s.handleListBatchItems))
	s.route(mux, "GET /batches/{id}/levels", s.requireAuth("", s.handleBatchLevels))
	s.route(mux, "POST /batches/{id}/dispatch", s.requireAuth(PermWorkItems, s.handleDispatchBatch))

	// Mail & handoffs
	s.route(mux, "POST /mail", s.requireAuth(PermChat, s.handleSendMail))
	s.route(mux, "GET /mail/{handle}/unread", s.requireAuth(PermChat, s.handleUnreadMail))
	s.route(mux, "POST /mail/{id}/read", s.requireAuth(PermChat, s.handleMarkMailRead))
	s.route(mux, "POST /mail/{handle}/read-all", s.requireAuth(PermChat, s.handleMarkAllMailRead))
	s.route(mux, "POST /handoffs", s.requireAuth(PermChat, s.handleCreateHandoff))
	s.route(mux, "GET /handoffs/{handle}", s.requireAuth(PermChat, s.handleListHandoffs))
	s.route(mux, "POST /handoffs/{id}/accept", s.requireAuth(PermChat, s.handleAcceptHandoff))

	// Beliefs
	s.route(mux, "POST /beliefs", s.requireAuth(PermBlackboard, s.handleUpsertBelief))
	s.route(mux, "GET /beliefs", s.requireAuth(PermBlackboard, s.handleGetBeliefs))
	s.route(mux, "POST /meta-beliefs", s.requireAuth(PermBlackboard, s.handleUpsertMetaBelief))
	s.route(mux, "GET /meta-beliefs", s.requireAuth(PermBlackboard, s.handleGetMetaBeliefs))

	// TLDR summaries
	s.route(mux, "PUT /tldr/{handle}", s.requireAuth(PermChat, s.handlePutSummary))
	s.route(mux, "GET /tldr/{handle}", s.requireAuth("", s.handleGetSummary))

	s.mux = mux
	return mux
}

// route installs observability middleware around one pattern.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	tracer := otel.Tracer("fleetd/gateway")
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), pattern)
		span.SetAttributes(attribute.String("http.method", r.Method))
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(sw, r.WithContext(ctx))
		if s.metrics != nil {
			s.metrics.ObserveHTTP(pattern, r.Method, sw.status, time.Since(start))
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	s.log.Info("gateway starting", "addr", addr)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebSocket upgrades the connection and runs the client pumps. A
// valid bearer token binds the socket to a handle so targeted messages
// reach only their addressee; anonymous sockets still subscribe.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var uid, handle string
	if raw := bearerToken(r); raw != "" {
		if ac, err := s.parseToken(raw); err == nil {
			uid, handle = ac.UID, ac.Handle
		}
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	c := newClient(conn, s.hub, uid, handle)
	if s.metrics != nil {
		s.metrics.WSClients.Inc()
		defer s.metrics.WSClients.Dec()
	}
	s.log.Info("client connected", "id", c.id, "handle", handle)
	c.run()
	s.log.Info("client disconnected", "id", c.id)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	total, healthy, degraded, unhealthy := s.super.HealthCounts()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
		"uptime":  int64(time.Since(s.startedAt).Seconds()),
		"workers": map[string]int{
			"total":     total,
			"healthy":   healthy,
			"degraded":  degraded,
			"unhealthy": unhealthy,
		},
	})
}

// StartTestServer listens on an ephemeral port for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := s.BuildMux()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}
	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()
	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		go s.httpServer.Serve(ln)
	}
	return addr, start
}
