package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/delve-search/delve/app/cache"
	"github.com/delve-search/delve/app/config"
	"github.com/delve-search/delve/app/dump"
	"github.com/delve-search/delve/app/fulltext"
	"github.com/delve-search/delve/app/search"
	"github.com/delve-search/delve/app/server"
	"github.com/delve-search/delve/app/storage"
)

func main() {

	// Load configuration
	config, err := config.Read()

	if err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Set up the store using the specified driver
	var store storage.Store

	switch config.DB.Driver {
	case "sqlite":
		sqlite, err := storage.SQLite(config.DB.ConnectionString)
		if err != nil {
			panic(fmt.Sprintf("Error opening SQLite database: %v", err))
		}
		store = sqlite
	default:
		panic(fmt.Sprintf("Unknown database driver: %v. Valid drivers include: sqlite.", config.DB.Driver))
	}

	{
		// Create tables if they don't exist (and set SQLite to WAL mode)
		err := store.Setup()

		if err != nil {
			panic(fmt.Sprintf("Failed to set up database: %v", err))
		}
	}

	var index *fulltext.Index
	if config.FullText.Enabled {
		opened, err := fulltext.Open(config.FullText.Path)
		if err != nil {
			panic(fmt.Sprintf("Error opening full-text index: %v", err))
		}
		index = opened
	}

	crates := cache.New(store)

	weights := search.Weights{
		Name:             config.Search.Weights.Name,
		Keyword:          config.Search.Weights.Keyword,
		Category:         config.Search.Weights.Category,
		FullText:         config.Search.Weights.FullText,
		QuadraticPartial: config.Search.QuadraticPartial,
	}

	// A nil *fulltext.Index must become a nil interface, not a typed nil.
	var fullText search.FullText
	if index != nil {
		fullText = index
	}
	engine := search.NewEngine(store, crates, fullText, weights, config.Search.MaxResults)

	if len(os.Args) > 1 {
		// One-shot mode: run a single query against the existing database and
		// print the ranked results.
		query := strings.Join(os.Args[1:], " ")
		runQuery(engine, crates, query)
		return
	}

	if err := os.MkdirAll(config.Dump.Directory, 0o755); err != nil {
		panic(fmt.Sprintf("Failed to create dump directory: %v", err))
	}

	var indexer dump.Indexer
	if index != nil {
		indexer = index
	}
	resolver := dump.NewResolver(store, config.Dump.URL, config.Dump.Directory, time.Duration(config.Dump.FreshForHours)*time.Hour)
	pipeline := dump.NewPipeline(store, crates, indexer, resolver, int(config.Dump.ReimportWindowDays))

	// Periodically import new registry dumps
	startImportJob(pipeline, config)

	// Create an API server
	server.Start(engine, config)
}

func runQuery(engine *search.Engine, crates *cache.Cache, query string) {
	// The cache starts cold; wait for the initial load before querying.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := crates.RefreshWait(ctx); err != nil {
		panic(fmt.Sprintf("Failed to load the crate cache: %v", err))
	}

	start := time.Now()
	results, err := engine.Query(query)
	if err != nil {
		panic(fmt.Sprintf("Search failed: %v", err))
	}
	elapsed := time.Since(start)

	for i, result := range results {
		fmt.Printf("%3d. %v (confidence %.3f, popularity %.3f)\n", i+1, result.Crate.Name, result.Confidence, result.Popularity)
		if result.Crate.Description != "" {
			fmt.Printf("     %v\n", result.Crate.Description)
		}
	}
	fmt.Printf("Found %v results in %v\n", len(results), elapsed)
}
