package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/go-redis/redis/v8"

	"github.com/golang/glog"

	"kuyapads.com/padsync"
)

const Version = "0.1.0"

const DefaultPort = 5000
const DefaultDbPath = "padsync.db"

func main() {
	usage := `Pad sync daemon.

Usage:
    padsyncd serve [--port=<port>] [--db=<db>] [--jwt_secret=<jwt_secret>]
        [--redis=<redis>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --db=<db>                  Sqlite pad store path [default: padsync.db].
    --jwt_secret=<jwt_secret>  Hs256 secret for session tokens. Unverified tokens are accepted when unset.
    --redis=<redis>            Redis address for the cross process room relay.
    -p --port=<port>           Listen port [default: 5000].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}
	flag.Parse()

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

func serve(opts docopt.Opts) {
	port, _ := opts.Int("--port")

	dbPath := DefaultDbPath
	if dbPathAny := opts["--db"]; dbPathAny != nil {
		dbPath = dbPathAny.(string)
	}

	var jwtSecret string
	if jwtSecretAny := opts["--jwt_secret"]; jwtSecretAny != nil {
		jwtSecret = jwtSecretAny.(string)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
		<-signals
		cancel()
	}()

	ctx := cancelCtx

	store, err := padsync.NewSqlitePadStore(dbPath)
	if err != nil {
		glog.Errorf("[d]store error = %s\n", err)
		os.Exit(1)
	}
	defer store.Close()

	registry := padsync.NewSessionRegistry()
	router := padsync.NewRoomRouter(ctx, registry)

	var relay padsync.RoomRelay
	if redisAddrAny := opts["--redis"]; redisAddrAny != nil {
		client := redis.NewClient(&redis.Options{
			Addr: redisAddrAny.(string),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			glog.Errorf("[d]redis error = %s\n", err)
			os.Exit(1)
		}
		relay = padsync.NewRedisRoomRelay(ctx, client)
		router.SetRelay(relay)
		defer relay.Close()
	}

	writer := padsync.NewPadWriterWithDefaults(ctx, store)
	gate := padsync.NewStoreAccessGate(store)
	service := padsync.NewEditService(ctx, registry, router, writer, gate)
	wsServer := padsync.NewWsServerWithDefaults(ctx, service, jwtSecret)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "OK",
			"version":   Version,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		defer cancel()
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			glog.Errorf("[d]listen error = %s\n", err)
		}
	}()

	fmt.Printf("padsyncd %s on *:%d\n", Version, port)

	select {
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	wsServer.Close()
	// flush pending writes before exit
	writer.Close()
}
