package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"asciidocartisan/engine/internal/appdirs"
	"asciidocartisan/engine/internal/config"
	"asciidocartisan/engine/internal/engine"
	"asciidocartisan/engine/internal/envfile"
	"asciidocartisan/engine/internal/errinfo"
	"asciidocartisan/engine/internal/logging"
	"asciidocartisan/engine/internal/rpc"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envResult := envfile.Load()
	debug := logging.DebugEnabled()
	dataDir, err := appdirs.DataDir()
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("engine init failed: %v", err)
	}
	logSetup, logErr := logging.NewFileLogger(dataDir, debug)
	logger := logSetup.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("component", "engine")
	if logSetup.Enabled {
		logger.Info("engine.logging_enabled", "path", logSetup.Path)
	}
	if envResult.Loaded {
		logger.Debug("engine.env_loaded", "path", envResult.Path, "keys", envResult.Keys)
	}
	if envResult.Err != nil {
		logger.Warn("engine.env_load_failed", "path", envResult.Path, "error", envResult.Err.Error())
	}
	if logErr != nil {
		logger.Warn("engine.log_setup_failed", "error", logErr.Error())
	}
	if logSetup.Close != nil {
		defer logSetup.Close()
	}

	store := config.NewStore(appdirs.ConfigPath(dataDir))
	if err := store.EnsureDefault(); err != nil {
		logger.Warn("engine.config_write_failed", "path", store.Path(), "error", err.Error())
	}
	cfg, err := store.Load()
	if err == nil {
		err = cfg.ApplyEnv()
	}
	if err != nil {
		logger.Error("engine.config_invalid", "path", store.Path(), "error", err.Error())
		log.Fatalf("engine config invalid: %v", err)
	}

	eng, err := engine.New(
		engine.WithLogger(logger),
		engine.WithConfig(cfg),
		engine.WithDataDir(dataDir),
	)
	if err != nil {
		logger.Error("engine.init_failed", "error", err.Error())
		log.Fatalf("engine init failed: %v", err)
	}
	server := rpc.NewServer(engine.APIVersion, os.Stdin, os.Stdout, logger)
	eng.SetNotifier(server.Notify)

	register := func(method string, fn func(context.Context, json.RawMessage) (any, *errinfo.ErrorInfo)) {
		server.Register(method, func(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
			result, errInfo := fn(ctx, params)
			if errInfo != nil {
				msg := errInfo.ErrorCode
				if errInfo.Detail != "" {
					msg = errInfo.Detail
				}
				code := rpc.CodeServerError
				if errInfo.ErrorCode == errinfo.CodeValidationFailed || errInfo.ErrorCode == errinfo.CodeUnsupportedFormat {
					code = rpc.CodeInvalidParams
				}
				return nil, &rpc.Error{Code: code, Message: msg, Data: errInfo}
			}
			return result, nil
		})
	}

	register("EngineGetInfo", eng.EngineGetInfo)
	register("ToolsGetStatus", eng.ToolsGetStatus)
	register("ProvidersGetStatus", eng.ProvidersGetStatus)

	register("ConversionListFormats", eng.ConversionListFormats)
	register("ConversionSubmit", eng.ConversionSubmit)
	register("ConversionCancel", eng.ConversionCancel)
	register("ConversionListActive", eng.ConversionListActive)
	register("ConversionRoundTrip", eng.ConversionRoundTrip)
	register("ConversionExportBatch", eng.ConversionExportBatch)

	serveErr := server.Serve(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := eng.Close(ctx); err != nil {
		logger.Warn("engine.shutdown_incomplete", "error", err.Error())
	}
	if serveErr != nil {
		logger.Error("rpc.server_error", "error", serveErr.Error())
		log.Fatalf("rpc server error: %v", serveErr)
	}
}
