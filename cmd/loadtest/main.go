package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	QPS         float64
	Distinct    bool
	Terms       []string
}

type lookupResponse struct {
	Count    int  `json:"count"`
	CacheHit bool `json:"cache_hit"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	qps := flag.Float64("qps", 0, "overall request rate limit; 0 means unlimited")
	distinct := flag.Bool("distinct", false, "request deduplicated ids")
	terms := flag.String("terms", "cat,dog,bird,fish,owl,fox,wolf,bear,deer,hare", "comma-separated terms to look up")
	flag.Parse()

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Concurrency: *concurrency,
		Duration:    *duration,
		QPS:         *qps,
		Distinct:    *distinct,
		Terms:       splitTerms(*terms),
	}
	if len(cfg.Terms) == 0 || cfg.Concurrency < 1 {
		fmt.Fprintln(os.Stderr, "need at least one term and one worker")
		os.Exit(2)
	}

	fmt.Println("=== Hotswap Index Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	if cfg.QPS > 0 {
		fmt.Printf("QPS limit:   %.0f\n", cfg.QPS)
	}
	fmt.Printf("Terms:       %d unique\n", len(cfg.Terms))
	fmt.Println()

	stats := runLoadTest(cfg)
	stats.Print(cfg.Duration)
	if stats.totalRequests.Load() == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func splitTerms(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func lookupURL(cfg Config, term string) string {
	u := fmt.Sprintf("%s/search/%s", cfg.BaseURL, url.PathEscape(term))
	if cfg.Distinct {
		u += "?distinct=true"
	}
	return u
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	var limiter *rate.Limiter
	if cfg.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), cfg.Concurrency)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			termIdx := workerID

			for ctx.Err() == nil {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						return
					}
				}
				term := cfg.Terms[termIdx%len(cfg.Terms)]
				termIdx++

				req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL(cfg, term), nil)
				if err != nil {
					stats.RecordRequest(0, 0, err)
					continue
				}
				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						stats.RecordRequest(elapsed, 0, err)
					}
					continue
				}

				var body lookupResponse
				if resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&body) == nil {
					stats.RecordLookup(body.Count, body.CacheHit)
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				stats.RecordRequest(elapsed, resp.StatusCode, nil)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}
