// Benchmark tool for load-testing Kestrel's dry-run endpoint.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/events.csv -url http://localhost:8080
//
// This tool:
//   1. Reads purchase event data from a CSV file
//   2. Sends each event to Kestrel for dry-run evaluation
//   3. Tracks awarded points, suppressions, and error rates
//   4. Reports latency and throughput statistics
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// EventRow represents a row from the events CSV.
// Expected columns: net_amount, gross_amount, channel, store_id,
// member_id, tier_id, category_id, qty.
type EventRow struct {
	NetAmount   float64
	GrossAmount float64
	Channel     string
	StoreID     string
	MemberID    int64
	TierID      int64
	CategoryID  string
	Qty         int
}

// DryRunRequest is the Kestrel API request format.
type DryRunRequest struct {
	Trigger   string         `json:"trigger"`
	NetAmount float64        `json:"netAmount"`
	GrossAmt  float64        `json:"grossAmount,omitempty"`
	Channel   string         `json:"channel,omitempty"`
	StoreID   string         `json:"storeId,omitempty"`
	Items     []DryRunItem   `json:"items,omitempty"`
	Member    DryRunMember   `json:"member"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type DryRunItem struct {
	SKU        string  `json:"sku"`
	Qty        int     `json:"qty"`
	UnitPrice  float64 `json:"unitPrice"`
	CategoryID string  `json:"categoryId,omitempty"`
}

type DryRunMember struct {
	MemberID int64 `json:"memberId"`
	TierID   int64 `json:"tierId"`
}

// DryRunResponse is the Kestrel API response format.
type DryRunResponse struct {
	TotalPoints int64 `json:"totalPoints"`
	Awards      []struct {
		RuleID int64 `json:"ruleId"`
		Points int64 `json:"points"`
	} `json:"awards"`
	Suppressed []struct {
		RuleID int64  `json:"ruleId"`
		Reason string `json:"reason"`
	} `json:"suppressed"`
	Metadata struct {
		RulesEvaluated int   `json:"rulesEvaluated"`
		RulesMatched   int   `json:"rulesMatched"`
		EvalMs         int64 `json:"evalMs"`
	} `json:"metadata"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64

	TotalPoints      int64
	TotalAwards      int64
	TotalSuppressed  int64
	EventsWithPoints int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to events CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.Int64("tenant", 1, "Tenant ID for requests")
	programID := flag.Int64("program", 1, "Program ID to dry-run against")
	limit := flag.Int("limit", 10000, "Maximum events to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each event result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/events.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK - Dry-Run Load Test")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %d\n", *tenantID)
	fmt.Printf("Program ID:  %d\n", *programID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	// Read event data
	fmt.Printf("\nReading events from %s...\n", *csvPath)
	events, err := readEventsCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d events\n", len(events))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(events, *baseURL, *tenantID, *programID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readEventsCSV(path string, limit int) ([]EventRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}

	field := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	var events []EventRow

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		netAmount, _ := strconv.ParseFloat(field(record, "net_amount"), 64)
		grossAmount, _ := strconv.ParseFloat(field(record, "gross_amount"), 64)
		memberID, _ := strconv.ParseInt(field(record, "member_id"), 10, 64)
		tierID, _ := strconv.ParseInt(field(record, "tier_id"), 10, 64)
		qty, _ := strconv.Atoi(field(record, "qty"))
		if qty <= 0 {
			qty = 1
		}

		events = append(events, EventRow{
			NetAmount:   netAmount,
			GrossAmount: grossAmount,
			Channel:     field(record, "channel"),
			StoreID:     field(record, "store_id"),
			MemberID:    memberID,
			TierID:      tierID,
			CategoryID:  field(record, "category_id"),
			Qty:         qty,
		})

		if limit > 0 && len(events) >= limit {
			break
		}
	}

	return events, nil
}

func runBenchmark(events []EventRow, baseURL string, tenantID, programID int64, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan EventRow, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for ev := range work {
				start := time.Now()
				result, err := dryRunEvent(client, baseURL, tenantID, programID, ev)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: member %d -> %v\n", ev.MemberID, err)
					}
					continue
				}

				atomic.AddInt64(&metrics.TotalPoints, result.TotalPoints)
				atomic.AddInt64(&metrics.TotalAwards, int64(len(result.Awards)))
				atomic.AddInt64(&metrics.TotalSuppressed, int64(len(result.Suppressed)))
				if result.TotalPoints > 0 {
					atomic.AddInt64(&metrics.EventsWithPoints, 1)
				}

				if verbose {
					fmt.Printf("member %-8d | Amount: $%10.2f | Points: %6d | Awards: %d | Suppressed: %d | Eval: %dms\n",
						ev.MemberID,
						ev.NetAmount,
						result.TotalPoints,
						len(result.Awards),
						len(result.Suppressed),
						result.Metadata.EvalMs,
					)
				}
			}
		}()
	}

	// Send work
	for _, ev := range events {
		work <- ev
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func dryRunEvent(client *http.Client, baseURL string, tenantID, programID int64, ev EventRow) (*DryRunResponse, error) {
	req := DryRunRequest{
		Trigger:   "PURCHASE",
		NetAmount: ev.NetAmount,
		GrossAmt:  ev.GrossAmount,
		Channel:   ev.Channel,
		StoreID:   ev.StoreID,
		Items: []DryRunItem{
			{
				SKU:        "BENCH-SKU",
				Qty:        ev.Qty,
				UnitPrice:  ev.NetAmount / float64(ev.Qty),
				CategoryID: ev.CategoryID,
			},
		},
		Member: DryRunMember{
			MemberID: ev.MemberID,
			TierID:   ev.TierID,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/programs/%d/dryrun", baseURL, programID)
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", strconv.FormatInt(tenantID, 10))

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result DryRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nAWARD STATISTICS\n")
	fmt.Printf("   Total Points:       %d\n", m.TotalPoints)
	fmt.Printf("   Total Awards:       %d\n", m.TotalAwards)
	fmt.Printf("   Total Suppressed:   %d\n", m.TotalSuppressed)
	fmt.Printf("   Events w/ Points:   %d\n", m.EventsWithPoints)
	if m.TotalProcessed > 0 {
		hitRate := float64(m.EventsWithPoints) / float64(m.TotalProcessed) * 100
		fmt.Printf("   Hit Rate:           %.2f%%\n", hitRate)
	}
	if m.EventsWithPoints > 0 {
		avgPoints := float64(m.TotalPoints) / float64(m.EventsWithPoints)
		fmt.Printf("   Avg Points/Event:   %.1f\n", avgPoints)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		eps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f events/sec\n", eps)
	}

	fmt.Println()
}
