// Package loadtest exercises a record store under concurrent sync load.
//
// This package simulates many clients fetching zone changes at once to
// validate that the embedded store keeps serving reads while records,
// including sealed fields, are written concurrently.
package loadtest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/veildb/zonesync/internal/schema"
	"github.com/veildb/zonesync/internal/store"
)

// TestStore represents a populated store for load testing.
type TestStore struct {
	Store        *store.DB
	Zone         string
	RecordIDs    []store.RecordID
	TotalRecords int
	Encrypted    int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalFetches int
	Errors       int
	Durations    []time.Duration
}

// CreateTestStore creates and populates a store for load testing.
//
// The zone is filled with generated contacts; encryptedPct controls what
// fraction carry a phone number in the sealed field set (typical: 0.5),
// so fetches pay the unsealing cost a real sync would.
func CreateTestStore(dbPath, keyfile, zone string, numRecords int, encryptedPct float64) (*TestStore, error) {
	db, err := store.Open(dbPath, keyfile)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// Widen the connection pool for high concurrency testing.
	db.RawDB().SetMaxOpenConns(150)
	db.RawDB().SetMaxIdleConns(50)
	db.RawDB().SetConnMaxLifetime(10 * time.Minute)

	ctx := context.Background()
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := db.EnsureZone(ctx, zone); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure zone: %w", err)
	}

	ts := &TestStore{
		Store:        db,
		Zone:         zone,
		RecordIDs:    make([]store.RecordID, 0, numRecords),
		TotalRecords: numRecords,
	}

	for _, rec := range generateRecords(zone, numRecords, encryptedPct) {
		saved, err := db.Save(ctx, rec)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to insert record: %w", err)
		}
		ts.RecordIDs = append(ts.RecordIDs, saved.ID)
		if len(rec.Encrypted) > 0 {
			ts.Encrypted++
		}
	}

	return ts, nil
}

// Close closes the test store.
func (ts *TestStore) Close() error {
	if ts.Store != nil {
		return ts.Store.Close()
	}
	return nil
}

// RunConcurrentFetches simulates N concurrent clients fetching the full
// zone.
//
// Each client performs fetchesPerClient fetches from the zero token,
// recording latency for each. Returns aggregated latency statistics.
func (ts *TestStore) RunConcurrentFetches(numClients, fetchesPerClient int) (*LatencyStats, error) {
	var wg sync.WaitGroup

	resultsChan := make(chan []time.Duration, numClients)
	errorsChan := make(chan error, numClients)

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()

			durations := make([]time.Duration, 0, fetchesPerClient)
			ctx := context.Background()

			for j := 0; j < fetchesPerClient; j++ {
				start := time.Now()
				_, err := ts.Store.FetchChanges(ctx, ts.Zone, "")
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("client %d fetch %d failed: %w", clientID, j, err)
					return
				}
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	errorCount := 0
	for err := range errorsChan {
		errorCount++
		fmt.Printf("Error: %v\n", err)
	}

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}
	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no successful fetches completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount
	return stats, nil
}

// VerifyConsistency runs concurrent readers against a live writer.
//
// Readers fetch the zone and check every returned record still parses as
// a contact; one writer keeps inserting while they read. Any parse
// failure or fetch error fails the run.
func (ts *TestStore) VerifyConsistency(numClients int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	errorsChan := make(chan error, numClients+1)

	// Writer: keeps the zone changing underneath the readers.
	wg.Add(1)
	go func() {
		defer wg.Done()
		n := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
				rec := schema.NewRecord(ts.Zone, fmt.Sprintf("Churn %d", n), "")
				if _, err := ts.Store.Save(ctx, rec); err != nil && ctx.Err() == nil {
					errorsChan <- fmt.Errorf("writer save failed: %w", err)
					return
				}
				n++
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()

			for {
				select {
				case <-ctx.Done():
					return
				default:
					changes, err := ts.Store.FetchChanges(ctx, ts.Zone, "")
					if err != nil {
						if ctx.Err() == nil {
							errorsChan <- fmt.Errorf("client %d fetch failed: %w", clientID, err)
						}
						return
					}

					for _, rec := range changes.Records {
						if rec.ID == "" {
							errorsChan <- fmt.Errorf("client %d found record with empty ID", clientID)
							return
						}
						if _, err := schema.FromRecord(&rec); err != nil {
							errorsChan <- fmt.Errorf("client %d found unreadable record: %w", clientID, err)
							return
						}
					}

					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}
	return nil
}

// GetStats returns statistics about the test store.
func (ts *TestStore) GetStats() map[string]interface{} {
	encPct := 0.0
	if ts.TotalRecords > 0 {
		encPct = float64(ts.Encrypted) / float64(ts.TotalRecords) * 100
	}
	return map[string]interface{}{
		"zone":              ts.Zone,
		"total_records":     ts.TotalRecords,
		"encrypted_records": ts.Encrypted,
		"encrypted_percent": encPct,
	}
}

// generateRecords creates contact records with a deterministic mix of
// plaintext-only and sealed-field entries.
func generateRecords(zone string, count int, encryptedPct float64) []*store.RawRecord {
	rng := rand.New(rand.NewSource(42))
	records := make([]*store.RawRecord, count)

	for i := 0; i < count; i++ {
		phone := ""
		if rng.Float64() < encryptedPct {
			phone = fmt.Sprintf("+1 555 %04d", i%10000)
		}
		records[i] = schema.NewRecord(zone, fmt.Sprintf("Load Contact %05d", i), phone)
	}
	return records
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalFetches: len(durations),
		Durations:    sorted,
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats() {
	fmt.Printf("Latency Statistics:\n")
	fmt.Printf("  Total Fetches: %d\n", s.TotalFetches)
	fmt.Printf("  Errors:        %d\n", s.Errors)
	fmt.Printf("  Min:           %v\n", s.Min)
	fmt.Printf("  P50 (Median):  %v\n", s.P50)
	fmt.Printf("  Mean:          %v\n", s.Mean)
	fmt.Printf("  P95:           %v\n", s.P95)
	fmt.Printf("  P99:           %v\n", s.P99)
	fmt.Printf("  Max:           %v\n", s.Max)
}
