package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tuannm99/novastore/internal/config"
	"github.com/tuannm99/novastore/internal/recman"
	"github.com/tuannm99/novastore/pkg/logger"
)

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".novastore_history"
	}
	return filepath.Join(home, ".novastore_history")
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	return *cfg, nil
}

func main() {
	var (
		cfgPath  = flag.String("config", "", "YAML config file")
		dataPath = flag.String("path", "", "record file path without extension (overrides storage.path)")
		histPath = flag.String("history", defaultHistoryPath(), "history file path")
		oneShot  = flag.String("c", "", "run one command and exit")
		promAddr = flag.String("metrics", "", "serve Prometheus metrics on this address, e.g. :9090")
	)
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	lg, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	opts := []recman.Option{recman.WithConfig(cfg), recman.WithLogger(lg)}
	if *promAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, recman.WithRegisterer(reg))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*promAddr, mux); err != nil {
				lg.Error("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	rm, err := recman.Open(*dataPath, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := rm.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}()

	sh := &shell{rm: rm, out: os.Stdout}

	if *oneShot != "" {
		if err := sh.exec(*oneShot); err != nil && !errors.Is(err, errQuit) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		return
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "novastore> ",
		HistoryFile:     *histPath,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		return
	}
	defer func() { _ = rl.Close() }()

	fmt.Printf("opened %s\n", rm.Path())
	fmt.Println(`type \help for help`)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			// EOF
			fmt.Println()
			return
		}

		if err := sh.exec(line); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			fmt.Printf("error: %v\n", err)
		}
	}
}
