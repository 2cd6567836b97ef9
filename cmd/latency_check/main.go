// Command latency_check measures lookup latency of a running gaser server and
// reports which cache tier answered each request.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/elSilveira/gaser/internal/api"
	"github.com/elSilveira/gaser/pkg/geo"
)

type sampleResult struct {
	FirstByte  time.Duration
	Total      time.Duration
	StatusCode int
	Source     string
	Error      error
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Base URL of the gaser server")
	n := flag.Int("n", 20, "Number of requests per endpoint")
	concurrency := flag.Int64("c", 1, "Concurrency level (1 = sequential)")
	lat := flag.Float64("lat", -23.5505, "Latitude of the lookup center")
	lon := flag.Float64("lon", -46.6333, "Longitude of the lookup center")
	radius := flag.Float64("radius", 5, "Lookup radius in km")
	flag.Parse()

	center := geo.Point{Lat: *lat, Lon: *lon}
	endpoints := []string{
		"/health",
		"/api/cache/stats",
		stationsURL(center, *radius),
		"/api/stations?q=" + url.QueryEscape("São Paulo"),
		fmt.Sprintf("/api/stations/near?lat=%f&lon=%f&radius=%g", center.Lat, center.Lon, *radius),
		"/api/stations/filter?fuel=gasoline&sort=price",
	}

	fmt.Printf("Benchmarking %s with N=%d, C=%d\n\n", *baseURL, *n, *concurrency)
	for _, ep := range endpoints {
		benchmarkEndpoint(*baseURL+ep, *n, *concurrency)
	}

	// Cold regions: every request hits a different quantised key
	fmt.Println("Cold lookups (distinct regions):")
	var cold []string
	for i := 0; i < *n; i++ {
		p := geo.Offset(center, float64(i+1)*0.05, 0)
		cold = append(cold, *baseURL+stationsURL(p, *radius))
	}
	report("cold", measureAll(cold, *concurrency))
}

func stationsURL(p geo.Point, radius float64) string {
	return fmt.Sprintf("/api/stations?lat=%f&lon=%f&radius=%g", p.Lat, p.Lon, radius)
}

func benchmarkEndpoint(u string, n int, concurrency int64) {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = u
	}
	report(u, measureAll(urls, concurrency))
}

func measureAll(urls []string, concurrency int64) []sampleResult {
	results := make([]sampleResult, len(urls))
	sem := semaphore.NewWeighted(concurrency)
	var wg sync.WaitGroup
	for i, u := range urls {
		if err := sem.Acquire(context.Background(), 1); err != nil {
			results[i].Error = err
			continue
		}
		wg.Add(1)
		go func(idx int, u string) {
			defer wg.Done()
			defer sem.Release(1)
			results[idx] = measure(u)
		}(i, u)
	}
	wg.Wait()
	return results
}

func report(label string, results []sampleResult) {
	var totals, firstBytes []time.Duration
	sources := make(map[string]int)
	errorsCount := 0
	for _, r := range results {
		if r.Error != nil || r.StatusCode >= 400 {
			errorsCount++
			continue
		}
		totals = append(totals, r.Total)
		firstBytes = append(firstBytes, r.FirstByte)
		if r.Source != "" {
			sources[r.Source]++
		}
	}

	fmt.Printf("Endpoint: %s\n", label)
	if errorsCount > 0 {
		fmt.Printf("  Errors: %d/%d\n", errorsCount, len(results))
	}
	if len(totals) == 0 {
		fmt.Println("  No successful requests.")
		fmt.Println()
		return
	}

	sort.Slice(totals, func(i, j int) bool { return totals[i] < totals[j] })
	sort.Slice(firstBytes, func(i, j int) bool { return firstBytes[i] < firstBytes[j] })

	fmt.Printf("  Latency (Total)   : Min %v | P50 %v | Max %v\n", totals[0], totals[len(totals)/2], totals[len(totals)-1])
	fmt.Printf("  Latency (TTFB)    : Min %v | Avg %v | Max %v\n", firstBytes[0], average(firstBytes), firstBytes[len(firstBytes)-1])
	if len(sources) > 0 {
		fmt.Printf("  Sources           : %v\n", sources)
	}
	fmt.Println()
}

func measure(u string) sampleResult {
	var res sampleResult
	var wroteRequest time.Time

	req, err := http.NewRequest(http.MethodGet, u, http.NoBody)
	if err != nil {
		res.Error = err
		return res
	}
	trace := &httptrace.ClientTrace{
		WroteRequest:         func(httptrace.WroteRequestInfo) { wroteRequest = time.Now() },
		GotFirstResponseByte: func() { res.FirstByte = time.Since(wroteRequest) },
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	start := time.Now()
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		res.Error = err
		return res
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Error = err
		return res
	}
	res.Total = time.Since(start)
	res.StatusCode = resp.StatusCode

	var sr api.StationsResponse
	if json.Unmarshal(body, &sr) == nil {
		res.Source = sr.Source
	}
	return res
}

func average(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range d {
		sum += v
	}
	return sum / time.Duration(len(d))
}
