package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	replayPct   float64
)

// Metrics
var (
	totalRequests uint64
	applied       uint64 // Settlements applied
	replays       uint64 // Idempotent replays
	conflicts     uint64 // Concurrent duplicates (409)
	insufficient  uint64 // Withdrawals over the bound
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.Float64Var(&replayPct, "replay", 0.1, "Fraction of settlements re-sent with the same key")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		account := pickAccount()

		// Mostly settlements, with the occasional withdrawal to exercise
		// the prepaid-first debit path.
		if rand.Float32() < 0.2 {
			sendWithdrawal(client, account)
			continue
		}

		key := uuid.NewString()
		body := settlementBody()
		sendSettlement(client, account, key, body, false)
		if rand.Float64() < replayPct {
			// Re-send with the same key and body: the server must replay
			// the stored outcome without applying the credit again.
			sendSettlement(client, account, key, body, true)
		}
	}
}

func settlementBody() []byte {
	payload := map[string]interface{}{
		"amount": fmt.Sprintf("%d", rand.Intn(1_000_000)+1),
		"scale":  12,
	}
	body, _ := json.Marshal(payload)
	return body
}

func sendSettlement(client *http.Client, account int64, key string, body []byte, isReplay bool) {
	req, _ := http.NewRequest("POST", fmt.Sprintf("%s/api/v1/accounts/%d/settlements", targetURL, account), bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}
	resp.Body.Close()

	atomic.AddUint64(&totalRequests, 1)
	switch resp.StatusCode {
	case 200:
		if isReplay {
			atomic.AddUint64(&replays, 1)
		} else {
			atomic.AddUint64(&applied, 1)
		}
	case 409:
		atomic.AddUint64(&conflicts, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
}

func sendWithdrawal(client *http.Client, account int64) {
	payload := map[string]interface{}{"amount": int64(rand.Intn(500) + 1)}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequest("POST", fmt.Sprintf("%s/api/v1/accounts/%d/withdrawals", targetURL, account), bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}
	resp.Body.Close()

	atomic.AddUint64(&totalRequests, 1)
	switch resp.StatusCode {
	case 200:
		atomic.AddUint64(&applied, 1)
	case 422:
		atomic.AddUint64(&insufficient, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
}

func pickAccount() int64 {
	// Assumes 1000 accounts seeded (IDs 1-1000)
	totalAccounts := 1000

	if workload == "hotspot" {
		// Hotspot: 90% of traffic hits two accounts, maximizing per-account
		// lock contention.
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return 1
			}
			return 2
		}
	}

	return int64(rand.Intn(totalAccounts) + 1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&applied)
	rep := atomic.LoadUint64(&replays)
	conf := atomic.LoadUint64(&conflicts)
	insuf := atomic.LoadUint64(&insufficient)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"throughput_tps":     tps,
		"applied":            ok,
		"replays":            rep,
		"conflicts":          conf,
		"insufficient_funds": insuf,
		"errors":             fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
