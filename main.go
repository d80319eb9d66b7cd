package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

// headlessTimeLimit caps one simulated match so a stalemate cannot run forever
const headlessTimeLimit = 30 * 60.0

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	clientDir := flag.String("client", "", "Path to client directory (default: ../client)")
	dbPath := flag.String("db", "pong.db", "SQLite database path (empty disables accounts)")
	configPath := flag.String("config", "", "TOML file with simulation parameters")
	difficulty := flag.String("difficulty", "", "AI difficulty preset: easy, medium or hard")
	simulate := flag.Int("simulate", 0, "Run N headless AI-vs-AI matches and exit")
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	if *difficulty != "" {
		if err := cfg.ApplyDifficulty(Difficulty(*difficulty)); err != nil {
			log.Fatalf("config: %v", err)
		}
	}

	if *simulate > 0 {
		results, err := SimulateMatches(cfg, *simulate, headlessTimeLimit)
		if err != nil {
			log.Fatalf("simulate: %v", err)
		}
		for i, r := range results {
			log.Printf("match %d: %s", i+1, r)
		}
		return
	}

	if *clientDir == "" {
		exe, _ := os.Executable()
		*clientDir = filepath.Join(filepath.Dir(exe), "..", "client")
		// Fallback for development
		if _, err := os.Stat(*clientDir); os.IsNotExist(err) {
			*clientDir = "../client"
		}
	}

	var db *DB
	if *dbPath != "" {
		var err error
		db, err = OpenDB(*dbPath)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
	}

	hub := NewHub(db, cfg)
	go hub.Run()

	mux := SetupRoutes(hub, *clientDir)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("Server starting on %s", *addr)
		log.Printf("Serving client files from %s", *clientDir)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	hub.Close()
}

// HeadlessResult is the outcome of one simulated match
type HeadlessResult struct {
	Score        [2]int
	Duration     float64
	LongestRally int
	Finished     bool // false when the time limit was hit first
}

func (r HeadlessResult) String() string {
	s := fmt.Sprintf("%d-%d in %.1fs, longest rally %d", r.Score[First], r.Score[Second], r.Duration, r.LongestRally)
	if !r.Finished {
		s += " (time limit)"
	}
	return s
}

// SimulateMatches plays n AI-vs-AI matches at the loop's fixed step,
// each capped at limit seconds of simulated time. Consecutive matches
// use consecutive seeds when cfg.Seed is set.
func SimulateMatches(cfg Config, n int, limit float64) ([]HeadlessResult, error) {
	cfg.First.AI = true
	cfg.Second.AI = true
	dt := 1.0 / float64(TickRate)

	results := make([]HeadlessResult, 0, n)
	for i := 0; i < n; i++ {
		mc := cfg
		if cfg.Seed != 0 {
			mc.Seed = cfg.Seed + int64(i)
		}
		sim, err := NewSimulation(mc)
		if err != nil {
			return nil, err
		}
		var r HeadlessResult
		sim.Subscribe(func(e Event) {
			if e.Type == EventPaddleHit && sim.Ball().RallyHits > r.LongestRally {
				r.LongestRally = sim.Ball().RallyHits
			}
		})

		sim.StartGame()
		for sim.Match().Phase() == PhasePlaying && sim.Now() < limit {
			sim.Step(dt)
		}
		st := sim.Match().State()
		r.Score = [2]int{st.Player1Score, st.Player2Score}
		r.Duration = sim.Now()
		r.Finished = st.Phase == PhaseGameOver
		results = append(results, r)
	}
	return results, nil
}
