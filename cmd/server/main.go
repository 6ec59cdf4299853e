package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"luna.social/internal/explain"
	"luna.social/internal/persistence/archive"
	"luna.social/internal/persistence/repo"
	"luna.social/internal/protocol"
	"luna.social/internal/sim/behavior"
	"luna.social/internal/sim/booking"
	"luna.social/internal/sim/executor"
	"luna.social/internal/sim/orchestrator"
	"luna.social/internal/sim/pool"
	"luna.social/internal/sim/tuning"
	"luna.social/internal/stream"
	"luna.social/internal/transport/httpapi"
	"luna.social/internal/transport/ws"
)

func main() {
	_ = godotenv.Load()

	var (
		addr       = flag.String("addr", envOr("LUNA_ADDR", ":8080"), "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dbPath     = flag.String("db", envOr("LUNA_DB", ""), "sqlite database path (empty: in-memory store)")
		seedWorld  = flag.Bool("seed", true, "generate a starter population when the store is empty")
		wipe       = flag.Bool("wipe", false, "drop all stored records before seeding")
		noArchive  = flag.Bool("disable_archive", false, "disable compressed event archiving")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	var store repo.Repository
	if strings.TrimSpace(*dbPath) != "" {
		s, err := repo.OpenSQLite(*dbPath)
		if err != nil {
			logger.Fatalf("open sqlite: %v", err)
		}
		store = s
		logger.Printf("store: sqlite %s", *dbPath)
	} else {
		store = repo.NewMemory()
		logger.Printf("store: in-memory")
	}
	defer store.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if *wipe {
		if err := store.Reset(ctx); err != nil {
			logger.Fatalf("wipe store: %v", err)
		}
		logger.Printf("store wiped")
	}

	agents := pool.New(store)
	if err := agents.Load(ctx); err != nil {
		logger.Fatalf("load pool: %v", err)
	}
	if *seedWorld && agents.Size() == 0 {
		rng := rand.New(rand.NewSource(tune.Seed))
		if err := pool.Seed(ctx, agents, tune.Seeding, rng); err != nil {
			logger.Fatalf("seed: %v", err)
		}
		logger.Printf("seeded %d agents, %d venues", tune.Seeding.Agents, tune.Seeding.Venues)
	}

	broker := stream.NewBroker(tune.Broker.HistoryCapacity, tune.Broker.SubscriberCapacity)

	if !*noArchive {
		arch := archive.NewArchiver(filepath.Join(*dataDir, "events"), broker, logger)
		if err := arch.Start(ctx); err != nil {
			logger.Fatalf("archiver: %v", err)
		}
		defer arch.Close()
	}

	machine := booking.NewMachine(store, agents)
	explainer := explain.New(tune.Explain.BaseURL, tune.ExplainTimeout())
	exec := executor.New(agents, store, machine, explainer, tune.Invites)
	registry := behavior.NewRegistry()
	engine := orchestrator.New(tune, logger, agents, store, machine, exec, broker, registry)
	defer func() {
		if engine.Status().Status != orchestrator.StatusStopped {
			_ = engine.Stop()
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		snap := engine.Status()
		m := snap.Metrics

		fmt.Fprintf(rw, "# HELP luna_sim_tick Current simulation tick.\n")
		fmt.Fprintf(rw, "# TYPE luna_sim_tick gauge\n")
		fmt.Fprintf(rw, "luna_sim_tick %d\n", m.Tick)

		fmt.Fprintf(rw, "# HELP luna_sim_events_total Events published this run.\n")
		fmt.Fprintf(rw, "# TYPE luna_sim_events_total counter\n")
		fmt.Fprintf(rw, "luna_sim_events_total %d\n", m.EventsGenerated)

		fmt.Fprintf(rw, "# HELP luna_sim_bookings_total Bookings by outcome.\n")
		fmt.Fprintf(rw, "# TYPE luna_sim_bookings_total counter\n")
		fmt.Fprintf(rw, "luna_sim_bookings_total{outcome=%q} %d\n", "created", m.BookingsCreated)
		fmt.Fprintf(rw, "luna_sim_bookings_total{outcome=%q} %d\n", "confirmed", m.BookingsConfirmed)
		fmt.Fprintf(rw, "luna_sim_bookings_total{outcome=%q} %d\n", "failed", m.BookingsFailed)

		fmt.Fprintf(rw, "# HELP luna_sim_invites_total Invitations sent and answered.\n")
		fmt.Fprintf(rw, "# TYPE luna_sim_invites_total counter\n")
		fmt.Fprintf(rw, "luna_sim_invites_total{kind=%q} %d\n", "sent", m.InvitesSent)
		fmt.Fprintf(rw, "luna_sim_invites_total{kind=%q} %d\n", "answered", m.InvitesAnswered)

		fmt.Fprintf(rw, "# HELP luna_sim_action_errors_total Per-agent action failures.\n")
		fmt.Fprintf(rw, "# TYPE luna_sim_action_errors_total counter\n")
		fmt.Fprintf(rw, "luna_sim_action_errors_total %d\n", m.ActionErrors)

		fmt.Fprintf(rw, "# HELP luna_sim_active_agents Agents acting this run.\n")
		fmt.Fprintf(rw, "# TYPE luna_sim_active_agents gauge\n")
		fmt.Fprintf(rw, "luna_sim_active_agents %d\n", m.ActiveAgents)

		fmt.Fprintf(rw, "# HELP luna_broker_published_total Events accepted by the broker.\n")
		fmt.Fprintf(rw, "# TYPE luna_broker_published_total counter\n")
		fmt.Fprintf(rw, "luna_broker_published_total %d\n", broker.Published())

		fmt.Fprintf(rw, "# HELP luna_sim_status Run status (1 for the active state).\n")
		fmt.Fprintf(rw, "# TYPE luna_sim_status gauge\n")
		for _, st := range []orchestrator.Status{orchestrator.StatusStopped, orchestrator.StatusRunning, orchestrator.StatusPaused} {
			v := 0
			if snap.Status == st {
				v = 1
			}
			fmt.Fprintf(rw, "luna_sim_status{state=%q} %d\n", string(st), v)
		}
	})

	httpapi.NewServer(engine, broker, store, logger).Routes(mux)
	mux.HandleFunc("/v1/ws", ws.NewServer(broker, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("protocol %s listening on %s", protocol.Version, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
