package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"quote-pipeline/src/broker"
	"quote-pipeline/src/config"
	"quote-pipeline/src/dlq"
	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/network"
	"quote-pipeline/src/orchestrator"
	"quote-pipeline/src/provider"
	"quote-pipeline/src/publisher"
	"quote-pipeline/src/serializer"
	"quote-pipeline/src/storage"
	"quote-pipeline/src/subscribers"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.Name)

	// 1. Transport and codec
	brk, err := broker.NewBroker(cfg.Broker, appLogger)
	if err != nil {
		appLogger.Critical("Failed to init broker: %v", err)
	}

	codec, err := serializer.NewSerializer(cfg.Serializer)
	if err != nil {
		appLogger.Critical("Failed to init serializer: %v", err)
	}

	// 2. Durable stores
	store, err := storage.NewCandleStore(&cfg.Storage, appLogger)
	if err != nil {
		appLogger.Critical("Failed to init candle store: %v", err)
	}

	deadLetters := dlq.NewSQLiteDLQ(cfg.DLQ, brk, appLogger)

	// 3. Orchestrator owns all lifecycles from here on
	orch := orchestrator.NewOrchestrator(cfg.MConfig, brk, store, deadLetters, appLogger)

	// 4. Subscribers
	subDeps := subscribers.Deps{
		Broker:     brk,
		Serializer: codec,
		DLQ:        deadLetters,
		Store:      store,
		LogLevel:   cfg.LogLevel,
		Logger:     appLogger,
	}
	for _, subCfg := range cfg.Subscribers {
		if !subCfg.Enabled {
			appLogger.Info("Subscriber %s disabled, skipping", subCfg.Name)
			continue
		}
		sub, err := subscribers.NewSubscriber(subCfg, subDeps)
		if err != nil {
			appLogger.Critical("Failed to build subscriber %s: %v", subCfg.Name, err)
		}
		orch.AddSubscriber(sub)
	}

	// 5. Publishers
	netMgr := network.NewAsyncNetworkManager(cfg.Network, appLogger)
	var quoteProvider interfaces.IQuoteProvider = provider.NewYahooProvider(netMgr, cfg.Network.ConcurrentRequests, appLogger)

	for _, pubCfg := range cfg.Publishers {
		if !pubCfg.Enabled {
			appLogger.Info("Publisher %s disabled, skipping", pubCfg.Name)
			continue
		}
		orch.AddPublisher(publisher.NewQuotePublisher(pubCfg, brk, codec, quoteProvider, appLogger))
	}

	// 6. Run until signalled
	if err := orch.Start(); err != nil {
		appLogger.Critical("Failed to start orchestrator: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	if err := orch.Stop(); err != nil {
		appLogger.Error("Shutdown error: %v", err)
	}
}
