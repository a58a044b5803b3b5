// Package main implements the standalone parameter server, the shared
// state every training worker synchronizes against.
//
// The server starts empty. The first worker to submit a replacement
// delta seeds the parameters; from then on deltas are folded in through
// the configured update rule.
//
// HTTP API:
//
//	┌──────────────────────────────────────────────┐
//	│             Parameter Server                 │
//	├──────────────────────────────────────────────┤
//	│  GET  /parameters - Current parameter blob   │
//	│  POST /update     - Submit a delta           │
//	│  GET  /health     - Liveness check           │
//	│  GET  /stats      - Request counters         │
//	└──────────────────────────────────────────────┘
//
// Configuration:
//   - PS_LISTEN: Listen address (default: ":5000")
//   - PS_RULE: Update rule, "additive" or "momentum" (default: "additive")
//   - PS_MOMENTUM: Momentum coefficient for the momentum rule (default: 0.9)
//
// Example usage:
//
//	# Start the server
//	PS_LISTEN=:5000 PS_RULE=additive ./paramserver
//
//	# Watch it work
//	curl localhost:5000/stats
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/FranNetty/dist-keras/internal/params"
	"github.com/FranNetty/dist-keras/internal/server"
	"github.com/FranNetty/dist-keras/internal/update"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	listen := getenv("PS_LISTEN", ":5000")

	rule, err := ruleFromEnv()
	if err != nil {
		logFatal("configure update rule: %v", err)
	}

	srv := server.New(listen, params.NewStore(nil), rule)
	if err := srv.Start(); err != nil {
		logFatal("start parameter server: %v", err)
	}
	log.Printf("paramserver listening on %s (rule %s)", srv.Addr(), rule.Name())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("paramserver stopped")
}

// ruleFromEnv builds the update rule the environment asks for.
func ruleFromEnv() (update.Rule, error) {
	spec := update.Spec{
		Name:     getenv("PS_RULE", update.RuleAdditive),
		Momentum: envFloat("PS_MOMENTUM", 0.9),
	}
	return update.New(spec)
}

// getenv retrieves an environment variable with a default fallback.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// envFloat retrieves a float environment variable with a default
// fallback. An unparseable value is fatal.
func envFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logFatal("env %s: %v", k, err)
		return def
	}
	return f
}
