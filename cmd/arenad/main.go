/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/varchess/arena/game"
	"github.com/varchess/arena/matchmaking"
	"github.com/varchess/arena/store"
)

type ArenaOpts struct {
	redisURL      string
	sessionTTL    time.Duration
	capacity      int
	timerInterval time.Duration
	dev           bool
}

func parseArgs(opts *ArenaOpts) error {
	f := flag.NewFlagSet("arenad", flag.ContinueOnError)

	defaultRedis := os.Getenv("REDIS_URL")
	if defaultRedis == "" {
		defaultRedis = "redis://localhost:6379"
	}
	f.StringVar(&opts.redisURL, "redis", defaultRedis, "<redis://host:port>")
	f.DurationVar(&opts.sessionTTL, "sessionttl", store.DefaultSessionTTL, "<idle session expiry>")
	f.IntVar(&opts.capacity, "capacity", matchmaking.DefaultTournamentCapacity, "<tournament capacity>")
	f.DurationVar(&opts.timerInterval, "timerinterval", time.Second, "<timer sweep interval>")
	f.BoolVar(&opts.dev, "dev", false, "development logging")

	return f.Parse(os.Args[1:])
}

func main() {
	var opts ArenaOpts
	err := parseArgs(&opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arenad: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(opts.dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arenad: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	err = run(&opts, log)
	if err != nil {
		log.Error("arenad exited", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	} // else
	return zap.NewProduction()
}

func run(opts *ArenaOpts, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(opts.redisURL)
	if err != nil {
		return fmt.Errorf("arenad: redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("arenad: redis ping: %w", err)
	}

	pub := &publisher{rdb: rdb, log: log}
	probe := &redisProbe{rdb: rdb}
	dir := &redisDirectory{rdb: rdb}
	st := store.New(rdb, opts.sessionTTL, log, nil)
	controller := game.NewController(st, pub, log)
	queue := matchmaking.NewQueue(rdb, st, probe, dir, pub, log)
	tournament := matchmaking.NewTournament(rdb, queue, probe, dir, pub,
		opts.capacity, log)

	log.Info("arenad started",
		zap.String("redis", redisOpts.Addr),
		zap.Duration("sessionTtl", opts.sessionTTL),
		zap.Int("tournamentCapacity", opts.capacity))

	br := &bridge{
		rdb:        rdb,
		controller: controller,
		queue:      queue,
		tournament: tournament,
		pub:        pub,
		log:        log,
	}
	go queue.Run(ctx)
	go br.run(ctx)
	runTimerSweep(ctx, rdb, controller, opts.timerInterval, log)

	log.Info("arenad stopped")
	return nil
}
