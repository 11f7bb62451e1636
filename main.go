package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/posturelab/spine-trainer-station/archive"
	"github.com/posturelab/spine-trainer-station/events"
	"github.com/posturelab/spine-trainer-station/oplog"
	"github.com/posturelab/spine-trainer-station/sensor"
	"github.com/posturelab/spine-trainer-station/stage"
	"github.com/posturelab/spine-trainer-station/training"
)

func main() {
	_ = godotenv.Load()

	port := envOr("PORT", "8080")
	dataDir := envOr("DATA_DIR", "data")
	sensorCount := envIntOr("SENSOR_COUNT", 3)
	variant := stage.ParseVariant(envOr("SPINE_VARIANT", "compact"))

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	journal, err := oplog.New(filepath.Join(dataDir, "operation_logs"))
	if err != nil {
		log.Printf("Operation log disabled: %v", err)
		journal = nil
	}

	recorder := events.NewRecorder(sensorCount)
	feed := sensor.NewFeed(sensorCount)
	engine := stage.NewEngine(variant, stage.ParseSpineType(""), sensorCount, dataDir, recorder, journal)
	store := training.NewStore(dataDir)

	if err := archive.Init(dataDir); err != nil {
		log.Fatalf("Failed to initialize session archive: %v", err)
	}

	engine.OnState = func(st stage.State) {
		stage.BroadcastState(st)
		store.HandleState(st)
	}
	engine.OnEvent = store.HandleEvent
	engine.OnCompleted = func(sessionID string, history []events.Event) {
		log.Printf("Training completed for session %s with %d events", sessionID, len(history))
	}
	feed.RegisterListener(engine.HandleSnapshot)

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)
	go feed.MonitorStalls(ctx, 5*time.Second)

	if simulate := os.Getenv("SIMULATE"); simulate == "1" || strings.EqualFold(simulate, "true") {
		sim := sensor.NewSimulator(feed, 100*time.Millisecond)
		go sim.Run(ctx)
		log.Println("Simulated sensor source enabled")
	}

	// Set up graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Println("Shutting down gracefully...")
		cancel()
		if err := archive.Close(); err != nil {
			log.Printf("Error closing archive database: %v", err)
		}
		os.Exit(0)
	}()

	// Serve static files
	http.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("frontend/static"))))
	http.HandleFunc("/", serveFrontend)

	events.SetupHandlers(recorder)
	sensor.SetupHandlers(feed)
	stage.SetupHandlers(engine, feed)
	training.SetupHandlers(store, engine, recorder, feed)
	archive.SetupHandlers()

	log.Printf("Server started at http://127.0.0.1:%s", port)
	http.ListenAndServe(":"+port, nil)
}

func serveFrontend(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, "frontend/overview.html")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		log.Printf("Invalid %s value %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
