package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hybridgroup/mjpeg"
	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/pipeline"
	"github.com/sentryvision/sv-go/service/config"
	"github.com/sentryvision/sv-go/service/data"
	"github.com/sentryvision/sv-go/service/lgr"
	"github.com/sentryvision/sv-go/service/notify"
	"github.com/sentryvision/sv-go/service/provider"
	"github.com/sentryvision/sv-go/service/storage"
)

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		lgr.Logger.Info("loading env vars from .env file")
		err := godotenv.Load()
		if err != nil {
			lgr.Logger.Warn("no .env file loaded", slog.Any("error", xerrors.New(err.Error())))
		}
	}

	// Config service
	cfgSvc := config.NewEnv()
	// Data service
	dataSvc := data.NewFilesDB(cfgSvc)
	// Storage service
	storageSvc := storage.NewFake(cfgSvc)
	// Notify service
	notifySvc := notify.NewWebhook(cfgSvc, os.Getenv("WEBHOOK_URL"))
	// Provider service
	var providerSvc provider.IService
	if os.Getenv("PROVIDER") == "onnx" {
		var err error
		providerSvc, err = provider.NewOnnx(cfgSvc)
		if err != nil {
			lgr.Logger.Error("error initializing onnx provider", slog.Any("error", err))
			panic("error initializing onnx provider")
		}
	} else {
		providerSvc = provider.NewFake()
	}
	defer providerSvc.Close()

	svcs := pipeline.ServicesFactory{
		CfgSvc:      cfgSvc,
		DataSvc:     dataSvc,
		StorageSvc:  storageSvc,
		NotifySvc:   notifySvc,
		ProviderSvc: providerSvc,
	}

	errorStream := make(chan interface{}, 100)
	statsStream := make(chan interface{}, 100)

	cache := pipeline.NewWatchlistCache(dataSvc, time.Duration(cfgSvc.GetWatchlistCacheTTL())*time.Second)
	manager := pipeline.NewManager(cfgSvc, errorStream, statsStream)

	sources, err := dataSvc.RetrieveSources()
	if err != nil {
		lgr.Logger.Error("error retrieving sources", slog.Any("error", err))
		panic("error retrieving sources")
	}

	mux := http.NewServeMux()

	for _, src := range sources {
		if !src.Enabled {
			lgr.Logger.Info("skipping disabled source", slog.String("source", src.ID))
			continue
		}

		if err := manager.AddSource(src); err != nil {
			lgr.Logger.Error(
				"error adding source, skipping",
				slog.String("source", src.ID),
				slog.Any("error", err),
			)
			continue
		}

		if err := manager.RegisterCallback(src.ID, pipeline.NewDetectionHandler(canxCtx, svcs, src, cache, errorStream, statsStream)); err != nil {
			lgr.Logger.Error("error registering detection handler", slog.Any("error", err))
			continue
		}

		liveStream := mjpeg.NewStream()
		mux.Handle("/live/"+src.ID, liveStream)
		if err := manager.RegisterCallback(src.ID, pipeline.NewLiveViewHandler(liveStream)); err != nil {
			lgr.Logger.Error("error registering live view handler", slog.Any("error", err))
		}

		if err := manager.Start(canxCtx, src.ID); err != nil {
			lgr.Logger.Error("error starting source", slog.String("source", src.ID), slog.Any("error", err))
		}
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfgSvc.GetLiveViewPort())
		lgr.Logger.Info("live view server starting", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			lgr.Logger.Error("live view server exited", slog.Any("error", err))
		}
	}()

	// Wait for cancellation, stats or errors
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"orchestrator context cancelled",
			)
			goto resume

		case e := <-errorStream:
			if err := dataSvc.NewError(e); err != nil {
				lgr.Logger.Error("error persisting error", slog.Any("error", err))
			}

		case s := <-statsStream:
			procStats(dataSvc, s)
		}
	}

	// Wait in a non-blocking way for the shutdown duration so the pumps
	// can report final stats and errors as they exit
resume:
	if canxCtx.Err() == nil {
		canxFn()
	}

	manager.StopAll()

	lgr.Logger.Info(
		"orchestrator is waiting for all go routines to exit",
	)

	waitOnShutdown := time.Duration(cfgSvc.GetModeMaxShutdownTime()) * time.Second
	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			lgr.Logger.Info(
				"orchestrator shutdown waiting period expired. Exiting now",
				slog.Duration("period", waitOnShutdown),
			)
			return

		case e := <-errorStream:
			if err := dataSvc.NewError(e); err != nil {
				lgr.Logger.Error("error persisting error", slog.Any("error", err))
			}

		case s := <-statsStream:
			procStats(dataSvc, s)
		}
	}
}

func procStats(dataSvc data.IService, s interface{}) {
	var err error
	switch stats := s.(type) {
	case model.PumpStats:
		err = dataSvc.NewPumpStats(stats)
	case model.PipelineStats:
		err = dataSvc.NewPipelineStats(stats)
	case model.RecorderStats:
		err = dataSvc.NewRecorderStats(stats)
	default:
		lgr.Logger.Warn("unknown stats type", slog.Any("stats", s))
		return
	}
	if err != nil {
		lgr.Logger.Error("error persisting stats", slog.Any("error", err))
	}
}
