// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

// Package main implements the locsim location simulation service.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/wneessen/locsim/internal/config"
	"github.com/wneessen/locsim/internal/logger"
	"github.com/wneessen/locsim/internal/service"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGABRT, os.Interrupt)
	defer cancel()

	// Initialize Logger
	log := logger.New(slog.LevelError)

	confPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	conf, err := loadConfig(*confPath)
	if err != nil {
		log.Error("failed to load config", logger.Err(err))
		os.Exit(1)
	}

	log, closer := newLogger(conf)
	defer func() {
		if err := closer.Close(); err != nil {
			log.Error("failed to close log file", logger.Err(err))
		}
	}()

	serv, err := service.New(conf, log)
	if err != nil {
		log.Error("failed to initialize locsim service", logger.Err(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	serv.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP)
	defer serv.SignalSrc.Stop(sigChan)
	go serv.HandleSignals(ctx, sigChan)

	log.Info("starting locsim service", slog.String("version", version),
		slog.String("commit", commit), slog.String("date", date),
		slog.String("session", serv.Engine().Session()))
	if err = serv.Run(ctx); err != nil {
		log.Error("failed to run locsim service", logger.Err(err))
	}
	log.Info("shutting down locsim service")
}

// loadConfig reads the given config file, or the config file in the default location if
// none is given. Without a config file, the defaults and the environment are used.
func loadConfig(confPath string) (*config.Config, error) {
	if confPath != "" {
		return config.NewFromFile(filepath.Dir(confPath), filepath.Base(confPath))
	}
	if path, file := config.FindFile(); path != "" && file != "" {
		return config.NewFromFile(path, file)
	}
	return config.New()
}

// newLogger returns the logger for the configured level. If a log file is configured, the
// output is duplicated to the size-rotated file.
func newLogger(conf *config.Config) (*logger.Logger, io.Closer) {
	if conf.LogFile.Path == "" {
		return logger.New(conf.LogLevel), io.NopCloser(nil)
	}
	return logger.NewWithFile(conf.LogLevel, logger.FileConfig{
		Path:       conf.LogFile.Path,
		MaxSizeMB:  conf.LogFile.MaxSize,
		MaxBackups: conf.LogFile.MaxBackups,
		MaxAgeDays: conf.LogFile.MaxAge,
		Compress:   conf.LogFile.Compress,
	})
}
