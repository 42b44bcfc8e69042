package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stakeops/internal/models"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	sellers     int
)

var (
	totalRequests uint64
	created       uint64 // 201
	conflicts     uint64 // 409: AlreadyPending
	rejected      uint64 // 422: validation
	upstream      uint64 // 502: remote service errors
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "stakeops API base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&sellers, "sellers", 1000, "Size of the seller pool (seller-1 .. seller-N)")
}

func main() {
	flag.Parse()
	log := logrus.WithFields(logrus.Fields{"workload": workload, "workers": concurrency, "duration": duration.String()})
	log.Info("starting benchmark")

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}
	wg.Wait()

	if err := printResults(time.Since(start)); err != nil {
		log.WithError(err).Fatal("unable to write results")
	}
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		body, _ := json.Marshal(models.CreateInvestmentRequest{
			Seller: pickSeller(),
			Amount: decimal.NewFromInt(int64(100 + rand.Intn(9900))),
		})

		resp, err := client.Post(targetURL+"/api/v1/investments", "application/json", bytes.NewReader(body))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&created, 1)
		case http.StatusConflict:
			atomic.AddUint64(&conflicts, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&rejected, 1)
		case http.StatusBadGateway:
			atomic.AddUint64(&upstream, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// pickSeller sends 90% of hotspot traffic to one seller, so almost every request
// after the first should be refused as already pending.
func pickSeller() string {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		return "seller-1"
	}
	return fmt.Sprintf("seller-%d", rand.Intn(sellers)+1)
}

func printResults(d time.Duration) error {
	total := atomic.LoadUint64(&totalRequests)
	conflict := atomic.LoadUint64(&conflicts)

	var conflictRate float64
	if total > 0 {
		conflictRate = float64(conflict) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_rps":    float64(total) / d.Seconds(),
		"created":           atomic.LoadUint64(&created),
		"already_pending":   conflict,
		"conflict_rate_pct": conflictRate,
		"validation_errors": atomic.LoadUint64(&rejected),
		"upstream_errors":   atomic.LoadUint64(&upstream),
		"errors":            atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	file, err := os.Create(fmt.Sprintf("results_%s.json", workload))
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewEncoder(file).Encode(results)
}
