package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"ragstore/internal/app"
	"ragstore/internal/config"
	"ragstore/internal/store"
)

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "path to config file")
		cmd         = flag.String("cmd", "", "command: ingest | scan | search | stats | delete-collection")
		collection  = flag.String("collection", "", "collection name (defaults to config ingest collection)")
		file        = flag.String("file", "", "file to ingest (ingest)")
		dir         = flag.String("dir", "", "directory to scan (scan)")
		query       = flag.String("query", "", "query text (search)")
		n           = flag.Int("n", 5, "number of results (search)")
		category    = flag.String("category", "", "category filter (search)")
		subcategory = flag.String("subcategory", "", "subcategory filter (search)")
		fileType    = flag.String("file_type", "", "file type filter, bypasses vector search (search)")
	)
	flag.Parse()

	if *cmd == "" {
		log.Fatalf("error: -cmd is required")
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	coll := *collection
	if coll == "" {
		coll = cfg.Ingest.Collection
	}
	ctx := context.Background()

	switch *cmd {
	case "ingest":
		if *file == "" {
			log.Fatalf("error: -file is required for ingest")
		}
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Fatalf("read file: %v", err)
		}
		res, err := a.Docs.AddDocument(ctx, store.AddDocumentParams{
			Collection: coll,
			FilePath:   *file,
			Text:       string(data),
		})
		if err != nil {
			log.Fatalf("ingest: %v", err)
		}
		printJSON(res)

	case "scan":
		scanDir := *dir
		if scanDir == "" {
			scanDir = cfg.Ingest.Dir
		}
		if scanDir == "" {
			log.Fatalf("error: -dir is required for scan")
		}
		if err := a.Scanner.Scan(ctx, scanDir); err != nil {
			log.Fatalf("scan: %v", err)
		}
		stats, err := a.Docs.CollectionStats(ctx, coll)
		if err != nil {
			log.Fatalf("stats: %v", err)
		}
		printJSON(stats)

	case "search":
		results, err := a.Docs.SearchSimilarChunks(ctx, coll, *query, *n, store.SearchFilters{
			Category:    *category,
			Subcategory: *subcategory,
			FileType:    *fileType,
		})
		if err != nil {
			log.Fatalf("search: %v", err)
		}
		printJSON(results)

	case "stats":
		stats, err := a.Docs.CollectionStats(ctx, coll)
		if err != nil {
			log.Fatalf("stats: %v", err)
		}
		printJSON(stats)

	case "delete-collection":
		deleted, err := a.Docs.DeleteCollection(ctx, coll)
		if err != nil {
			log.Fatalf("delete-collection: %v", err)
		}
		fmt.Printf("{\"deleted_documents\":%d}\n", deleted)

	default:
		log.Fatalf("unknown command: %s", *cmd)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
