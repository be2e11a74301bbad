package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"peoplecounter/internal/dto"
	"peoplecounter/internal/occupancy"
	"peoplecounter/internal/repository/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/occupancy.db", "Database path")
	streamID := flag.String("stream", "", "Stream id (empty for all streams)")
	kind := flag.String("kind", "", "Event kind to list: count, total or duration")
	limit := flag.Int("limit", 20, "Number of events to list (0 lists none)")
	flag.Parse()

	if *kind != "" {
		if _, err := occupancy.ParseEventKind(*kind); err != nil {
			log.Fatalf("Invalid -kind: %v", err)
		}
	}

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("Database %s not found: %v", *dbPath, err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	repo := sqlite.NewEventRepository(db)

	streams, err := repo.GetStreams()
	if err != nil {
		log.Fatalf("Failed to list streams: %v", err)
	}
	fmt.Printf("Streams recorded in %s: %d\n", *dbPath, len(streams))
	for _, s := range streams {
		fmt.Printf("  - %s\n", s)
	}

	summary, err := repo.Summary(*streamID)
	if err != nil {
		log.Fatalf("Failed to summarize episodes: %v", err)
	}
	printSummary(summary)

	if *limit <= 0 {
		return
	}

	events, err := repo.List(&dto.EventFilters{StreamID: *streamID, Kind: *kind, Limit: *limit})
	if err != nil {
		log.Fatalf("Failed to list events: %v", err)
	}
	if len(events) == 0 {
		fmt.Println("No events recorded")
		return
	}

	fmt.Printf("\n%-20s %-36s %-9s %6s %8s\n", "RECORDED", "STREAM", "KIND", "VALUE", "FRAME")
	for _, e := range events {
		fmt.Printf("%-20s %-36s %-9s %6d %8d\n",
			e.RecordedAt.Local().Format("2006-01-02 15:04:05"), e.StreamID, e.Kind, e.Value, e.FrameSeq)
	}
}

func printSummary(s *dto.Summary) {
	stream := s.StreamID
	if stream == "" {
		stream = "all streams"
	}

	fmt.Printf("\nSummary for %s\n", stream)
	fmt.Printf("  Entries:          %d\n", s.Entries)
	fmt.Printf("  Exits:            %d\n", s.Exits)
	fmt.Printf("  Total counted:    %d\n", s.TotalCount)
	fmt.Printf("  Peak in frame:    %d\n", s.PeakCount)
	fmt.Printf("  Average duration: %s\n", s.AverageDuration.Round(time.Second))
	fmt.Printf("  Longest duration: %s\n", s.LongestDuration.Round(time.Second))
	if !s.FirstEvent.IsZero() {
		fmt.Printf("  First event:      %s\n", s.FirstEvent.Local().Format(time.RFC3339))
		fmt.Printf("  Last event:       %s\n", s.LastEvent.Local().Format(time.RFC3339))
	}
}
