package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"visionrelay/internal/repository/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/archive.db", "Archive database path")
	limit := flag.Int("limit", 1000, "Number of most recent entries to export")
	out := flag.String("out", "", "Write the export to this file instead of stdout")
	stats := flag.Bool("stats", false, "Print archive statistics instead of exporting")
	pruneAfter := flag.Duration("prune", 0, "Delete entries older than this age, e.g. 720h")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("Archive not found: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open archive: %v", err)
	}
	defer db.Close()

	repo := sqlite.NewLogRepository(db)
	ctx := context.Background()

	if *pruneAfter > 0 {
		deleted, err := repo.DeleteBefore(ctx, time.Now().Add(-*pruneAfter))
		if err != nil {
			log.Fatalf("Failed to prune archive: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Deleted %d entries older than %v\n", deleted, *pruneAfter)
		return
	}

	if *stats {
		printStats(ctx, repo)
		return
	}

	entries, err := repo.Recent(ctx, *limit)
	if err != nil {
		log.Fatalf("Failed to read archive: %v", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode entries: %v", err)
	}

	if *out == "" {
		os.Stdout.Write(data)
		fmt.Println()
		return
	}
	if err := os.WriteFile(*out, data, 0644); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}
	fmt.Fprintf(os.Stderr, "Exported %d entries to %s\n", len(entries), *out)
}

func printStats(ctx context.Context, repo *sqlite.LogRepository) {
	total, err := repo.Count(ctx)
	if err != nil {
		log.Fatalf("Failed to count entries: %v", err)
	}
	perClass, err := repo.CountByClass(ctx)
	if err != nil {
		log.Fatalf("Failed to count detections: %v", err)
	}

	classes := make([]string, 0, len(perClass))
	for class := range perClass {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return perClass[classes[i]] > perClass[classes[j]] })

	fmt.Printf("Archive Statistics:\n")
	fmt.Printf("   Total entries: %d\n", total)
	fmt.Printf("   Detections per class:\n")
	for _, class := range classes {
		fmt.Printf("      - %s: %d\n", class, perClass[class])
	}
}
