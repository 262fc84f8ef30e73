package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/coder/quartz"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/auth"
	"github.com/partydeck/partydeck/internal/handlers"
	"github.com/partydeck/partydeck/internal/lobby"
	"github.com/partydeck/partydeck/internal/notify"
	"github.com/partydeck/partydeck/internal/pool"
	"github.com/partydeck/partydeck/internal/store"
	"github.com/partydeck/partydeck/internal/turn"
)

type CLI struct {
	Addr        string `help:"Listen address" default:":8080" env:"PARTYDECK_ADDR"`
	BaseURL     string `name:"base-url" help:"External URL for join links and QR codes" default:"http://localhost:8080" env:"PARTYDECK_BASE_URL"`
	PostgresDSN string `name:"postgres-dsn" help:"Postgres DSN; empty runs the in-memory store" env:"PARTYDECK_POSTGRES_DSN"`
	RedisAddr   string `name:"redis-addr" help:"Redis address for the change queue; empty disables it" env:"PARTYDECK_REDIS_ADDR"`
	RedisDB     int    `name:"redis-db" help:"Redis database number" default:"0" env:"PARTYDECK_REDIS_DB"`
	JWTPrivate  string `name:"jwt-private-key" help:"Path to an ed25519 private key; empty generates ephemeral keys" env:"PARTYDECK_JWT_PRIVATE_KEY"`
	JWTPublic   string `name:"jwt-public-key" help:"Path to the matching ed25519 public key" env:"PARTYDECK_JWT_PUBLIC_KEY"`
	Verbose     bool   `short:"v" help:"Debug logging"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli)

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cli.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	// init auth keys
	if cli.JWTPrivate != "" && cli.JWTPublic != "" {
		if err := auth.InitFromPath(cli.JWTPrivate, cli.JWTPublic); err != nil {
			log.Fatalf("failed to load jwt keys: %v", err)
		}
	} else {
		auth.Init()
	}

	hub := notify.NewHub(log)
	notifiers := []store.Notifier{hub}

	var queue *notify.Queue
	if cli.RedisAddr != "" {
		var err error
		queue, err = notify.NewQueue(cli.RedisAddr, cli.RedisDB, notify.DefaultQueueName, log)
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer queue.Close()
		notifiers = append(notifiers, queue)
	}
	notifier := notify.Combine(notifiers...)

	var st store.Store
	if cli.PostgresDSN != "" {
		pg, err := store.NewPostgres(context.Background(), cli.PostgresDSN, notifier)
		if err != nil {
			log.Fatalf("failed to connect postgres: %v", err)
		}
		defer pg.Close()
		st = pg
		log.Info("using postgres store")
	} else {
		st = store.NewMemory(notifier)
		log.Warn("using in-memory store; state is lost on restart")
	}

	clock := quartz.NewReal()
	srv := handlers.NewServer(
		log,
		st,
		lobby.New(st, clock, log),
		turn.New(st, clock, log),
		pool.New(st, log),
		hub,
		cli.BaseURL,
	)

	server := &http.Server{
		Handler:      srv.Router(),
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 30,
	}

	l, err := net.Listen("tcp", cli.Addr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	log.Infof("listening on %s", l.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		log.Errorf("failed to serve: %v", err)
	case sig := <-sigs:
		log.Infof("terminating: %v", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}

	kctx.Exit(0)
}
