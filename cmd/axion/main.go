package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"axion/internal/config"
	"axion/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", config.DefaultPath, "Path to YAML config")
	flag.Parse()

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load failed path=%s: %v", path, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("axion starting config=%s", path)
	rt, err := startRuntime(ctx, cfg, logs)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	<-ctx.Done()
	log.Printf("axion stopping")
	rt.Close()
}
