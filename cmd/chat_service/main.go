package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yann6182/Projet-chat-back/internal/cache"
	"github.com/yann6182/Projet-chat-back/internal/chat"
	"github.com/yann6182/Projet-chat-back/internal/chat/store"
	"github.com/yann6182/Projet-chat-back/internal/completion"
	"github.com/yann6182/Projet-chat-back/internal/config"
	"github.com/yann6182/Projet-chat-back/internal/database/milvus"
	"github.com/yann6182/Projet-chat-back/internal/database/mysql"
	"github.com/yann6182/Projet-chat-back/internal/database/redis"
	"github.com/yann6182/Projet-chat-back/internal/knowledge"
	"github.com/yann6182/Projet-chat-back/internal/rag/chunker"
	"github.com/yann6182/Projet-chat-back/internal/rag/embeddings"
	"github.com/yann6182/Projet-chat-back/internal/rag/retrieval"
	"github.com/yann6182/Projet-chat-back/internal/rag/vectorstore"
	"github.com/yann6182/Projet-chat-back/pkg/logger"
)

func main() {
	// Environment variables may hold the API keys referenced from the
	// config file; a missing .env is fine.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(cfg.Logger.Level)
	appLogger := logger.New("chat_service")
	appLogger.Info(fmt.Sprintf("starting %s %s", cfg.App.Name, cfg.App.Version))

	ctx := context.Background()

	db, err := mysql.GetDB(&cfg.MySQL)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("failed to connect to MySQL: %v", err))
	}
	defer mysql.Close()

	chatStore := store.New(db)
	if err := chatStore.AutoMigrate(); err != nil {
		appLogger.Fatal(fmt.Sprintf("failed to migrate schema: %v", err))
	}

	// The durable cache tier is redis when configured, local disk
	// otherwise.
	var durable cache.DurableTier
	if cfg.Redis.Enabled {
		rdb, err := redis.GetClient(&cfg.Redis)
		if err != nil {
			appLogger.Warn(fmt.Sprintf("redis unavailable, falling back to disk cache: %v", err))
		} else {
			durable = cache.NewRedisTier(rdb, "result_cache")
			defer redis.Close()
		}
	}
	if durable == nil {
		diskTier, err := cache.NewDiskTier(cfg.Cache.DiskDir)
		if err != nil {
			appLogger.Warn(fmt.Sprintf("disk cache disabled: %v", err))
		} else {
			durable = diskTier
		}
	}
	results := cache.Shared(cfg.Cache.MemorySize, durable)
	results.StartSweeper(time.Duration(cfg.Cache.SweepInterval) * time.Second)
	defer results.Stop()

	embedder, err := embeddings.NewModel(cfg.Embedding)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("failed to create embedding client: %v", err))
	}

	flat := vectorstore.NewFlatIndex(embedder, vectorstore.FlatOptions{
		BatchSize:         cfg.Embedding.Batch,
		RatePerSecond:     cfg.Embedding.RatePerS,
		Burst:             cfg.Embedding.Burst,
		DistanceThreshold: cfg.Retrieval.DistanceThreshold,
		Path:              cfg.Knowledge.IndexPath,
	})
	if err := flat.Load(); err != nil {
		appLogger.Warn(fmt.Sprintf("flat index snapshot not loaded: %v", err))
	}

	// Milvus is optional: without it retrieval runs on the flat index.
	var collection vectorstore.Index
	if cfg.Milvus.Address != "" {
		mc, err := milvus.GetClient(ctx, &cfg.Milvus)
		if err != nil {
			appLogger.Warn(fmt.Sprintf("milvus unavailable, flat index only: %v", err))
		} else {
			defer mc.Close()
			pc, err := vectorstore.NewPersistentCollection(ctx, mc.Client, cfg.Milvus.Collection, cfg.Milvus.Dim, embedder)
			if err != nil {
				appLogger.Warn(fmt.Sprintf("milvus collection unavailable, flat index only: %v", err))
			} else {
				collection = pc
			}
		}
	}

	retriever := retrieval.New(collection, flat, results, retrieval.Options{
		TopK:            cfg.Retrieval.TopK,
		SearchThreshold: cfg.Retrieval.SearchThreshold,
		HighConfidence:  cfg.Retrieval.HighConfidence,
		MaxExcerptChars: cfg.Retrieval.MaxExcerptChars,
	})

	convCache := cache.NewConversationStateCache(
		cfg.Chat.MaxConversations,
		time.Duration(cfg.Chat.ConversationTTL)*time.Second,
		cfg.Chat.MaxHistoryMessages,
	)

	completer := completion.NewOpenAIClient(cfg.Completion)
	service := chat.NewService(chatStore, convCache, retriever, completer, nil)

	indexer := knowledge.NewIndexer(
		cfg.Knowledge.Dir,
		chunker.New(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap),
		cfg.Chunking.MinChunkSize,
		collection,
		flat,
	)
	if err := indexer.Reindex(ctx); err != nil {
		appLogger.Warn(fmt.Sprintf("initial indexing incomplete: %v", err))
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if watcher, err := knowledge.NewWatcher(indexer); err != nil {
		appLogger.Warn(fmt.Sprintf("knowledge watcher disabled: %v", err))
	} else {
		go watcher.Run(watchCtx)
	}

	appLogger.Info("chat service ready")
	go runConsole(watchCtx, service)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down")
}
