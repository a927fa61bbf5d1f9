package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/dross/clantally/internal/fakeupstream"
	"github.com/dross/clantally/pkg/logger"
)

func main() {
	var (
		addr    = flag.String("addr", ":8490", "Listen address")
		apiKey  = flag.String("api-key", "", "Require this X-API-Key header (empty disables the check)")
		members = flag.Int("members", 0, "Roster size")
		chars   = flag.Int("max-characters", 0, "Max characters per member")
		clears  = flag.Int("max-clears", 0, "Max activities per character")
		seed    = flag.Int64("seed", 0, "Generation seed (same seed, same world)")
		latency = flag.Duration("latency", 0, "Artificial delay per response")
	)
	flag.Parse()

	if err := logger.Init("text"); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := fakeupstream.NewServer(&fakeupstream.Config{
		Addr:          *addr,
		APIKey:        *apiKey,
		Members:       *members,
		MaxCharacters: *chars,
		MaxClears:     *clears,
		Seed:          *seed,
		Latency:       *latency,
	})
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Get().Error(ctx, "fake upstream failed", logger.Error(err))
		os.Exit(1)
	}
}
