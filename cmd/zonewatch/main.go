package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scanline-systems/zonewatch/internal/config"
	"github.com/scanline-systems/zonewatch/internal/conn"
	"github.com/scanline-systems/zonewatch/internal/engine"
	"github.com/scanline-systems/zonewatch/internal/monitor"
	sqlitestore "github.com/scanline-systems/zonewatch/internal/store/sqlite"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file (optional)")
	sensorURL  = flag.String("sensor", "", "Sensor websocket URL (overrides config)")
	listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	dbFile     = flag.String("db", "", "Path to the SQLite database file (overrides config)")
	autoStart  = flag.Bool("connect", true, "Connect to the sensor on startup")
)

func main() {
	flag.Parse()

	// A missing .env is fine; it only supplies optional overrides.
	_ = godotenv.Load()

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	cfg.ApplyEnv()
	if *sensorURL != "" {
		cfg.SensorURL = sensorURL
	}
	if *listen != "" {
		cfg.ListenAddr = listen
	}
	if *dbFile != "" {
		cfg.DatabasePath = dbFile
	}

	st, err := sqlitestore.Open(cfg.GetDatabasePath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer st.Close()

	eng := engine.New(engine.Config{
		HistorySize: cfg.GetHistorySize(),
		Store:       st,
	})

	// Restore persisted counters and the active product across restarts.
	if snap, err := st.LoadStatistics(); err != nil {
		log.Printf("failed to load persisted statistics: %v", err)
	} else if snap.EvaluationCount > 0 {
		eng.RestoreStatistics(snap)
		log.Printf("restored statistics: %d evaluations since %s", snap.EvaluationCount, snap.Since.Format(time.RFC3339))
	}
	products, activeID, err := st.LoadProducts()
	if err != nil {
		log.Fatalf("failed to load products: %v", err)
	}
	log.Printf("loaded %d product(s)", len(products))
	if activeID != "" {
		for i := range products {
			if products[i].ID == activeID {
				eng.SetActiveProduct(&products[i])
				break
			}
		}
	}

	manager := conn.NewManager(conn.ManagerConfig{
		URL:    cfg.GetSensorURL(),
		Dialer: &conn.WebSocketDialer{HandshakeTimeout: cfg.GetHandshakeTimeout()},
		Events: conn.Events{
			OnMessage:     eng.HandleMessage,
			OnStateChange: func(s conn.State) { log.Printf("sensor connection: %s", s) },
			OnGiveUp: func(attempts int) {
				log.Printf("sensor connection abandoned after %d attempts; reconnect via the API", attempts)
			},
			OnPingSent: eng.PingSent,
		},
		BaseDelay:            cfg.GetReconnectBaseDelay(),
		MaxReconnectAttempts: cfg.GetMaxReconnectAttempts(),
		PingInterval:         cfg.GetPingInterval(),
	})

	web := monitor.NewWebServer(monitor.WebServerConfig{
		Address: cfg.GetListenAddr(),
		Engine:  eng,
		Store:   st,
		Conn:    manager,
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := web.Start(ctx); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
		log.Print("HTTP server routine terminated")
	}()

	// Periodic statistics persistence
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.GetStatsFlushInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				eng.FlushStatistics()
			case <-ctx.Done():
				return
			}
		}
	}()

	if *autoStart {
		log.Printf("connecting to sensor at %s", cfg.GetSensorURL())
		manager.Connect()
	} else {
		log.Print("sensor connection deferred (use the API to connect)")
	}

	<-ctx.Done()
	log.Print("shutting down...")
	manager.Disconnect()
	eng.FlushStatistics()
	wg.Wait()
	log.Print("shutdown complete")
}
