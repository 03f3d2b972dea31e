// README: Bench cases; environment checks, accept races against a live server and a snapshot throughput run.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var schemaTables = []string{"routes", "route_stops", "taxis", "ride_requests", "request_state_events"}

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	run   string

	// set by the setup case
	routeID string
	stops   []string
}

type Result struct {
	Name    string
	Status  Status
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   uuid.NewString()[:8],
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
			defer db.Close()
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
		defer r.redis.Close()
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "API: health", Run: checkHealth},
		{Name: "Setup: pick route", Run: pickRoute},
		{Name: "Race: many taxis, one request", Run: raceOneRequest},
		{Name: "Race: many requests, one taxi", Run: raceCapacity},
		{Name: "Perf: taxi snapshot throughput", Run: perfSnapshot},
	}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "no dsn"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusSkip, Note: "no redis address"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "no dsn"}
	}
	for _, t := range schemaTables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: StatusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: StatusPass}
}

func checkHealth(ctx context.Context, r *Runner) Result {
	start := time.Now()
	status, _, err := r.call(ctx, http.MethodGet, "/health", nil, "", "")
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if status != http.StatusOK {
		return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d", status)}
	}
	return Result{Status: StatusPass, Latency: time.Since(start)}
}

func pickRoute(ctx context.Context, r *Runner) Result {
	var body struct {
		Routes []struct {
			ID    string `json:"id"`
			Stops []struct {
				ID string `json:"id"`
			} `json:"stops"`
		} `json:"routes"`
	}
	status, err := r.callJSON(ctx, http.MethodGet, "/api/routes", nil, "bench-p-"+r.run, "", &body)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if status != http.StatusOK || len(body.Routes) == 0 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d routes=%d", status, len(body.Routes))}
	}
	r.routeID = body.Routes[0].ID
	for _, s := range body.Routes[0].Stops {
		r.stops = append(r.stops, s.ID)
	}
	return Result{Status: StatusPass, Note: "route=" + r.routeID}
}

// raceOneRequest has Concurrency drivers accept one request at once; exactly one may win.
func raceOneRequest(ctx context.Context, r *Runner) Result {
	if r.routeID == "" {
		return Result{Status: StatusSkip, Note: "no route"}
	}
	n := r.cfg.Concurrency
	taxis := make([]string, n)
	for i := range taxis {
		id, err := r.startTaxi(ctx, fmt.Sprintf("bench-d%d-%s", i, r.run), 4)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		taxis[i] = id
	}
	reqID, err := r.createRequest(ctx, "bench-p-"+r.run)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}

	start := time.Now()
	codes := r.race(ctx, n, func(i int) (int, string) {
		return r.accept(ctx, reqID, taxis[i], fmt.Sprintf("bench-d%d-%s", i, r.run))
	})
	latency := time.Since(start)

	won, lost := codes["accepted"], codes["request_unavailable"]
	if won != 1 || won+lost != n {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("outcomes=%v", codes)}
	}
	return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("won=%d lost=%d", won, lost)}
}

// raceCapacity has one taxi accept Concurrency requests at once; no more than its seats may succeed.
func raceCapacity(ctx context.Context, r *Runner) Result {
	if r.routeID == "" {
		return Result{Status: StatusSkip, Note: "no route"}
	}
	driver := "bench-cap-" + r.run
	taxiID, err := r.startTaxi(ctx, driver, r.cfg.Capacity)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	n := r.cfg.Concurrency
	reqs := make([]string, n)
	for i := range reqs {
		if reqs[i], err = r.createRequest(ctx, fmt.Sprintf("bench-cap-p%d-%s", i, r.run)); err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
	}

	start := time.Now()
	codes := r.race(ctx, n, func(i int) (int, string) {
		return r.accept(ctx, reqs[i], taxiID, driver)
	})
	latency := time.Since(start)

	won := codes["accepted"]
	if won != min(n, r.cfg.Capacity) {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("capacity=%d outcomes=%v", r.cfg.Capacity, codes)}
	}
	return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("capacity=%d outcomes=%v", r.cfg.Capacity, codes)}
}

func perfSnapshot(ctx context.Context, r *Runner) Result {
	if r.routeID == "" {
		return Result{Status: StatusSkip, Note: "no route"}
	}
	taxiID, err := r.startTaxi(ctx, "bench-perf-"+r.run, 4)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, err := r.call(ctx, http.MethodGet, "/api/taxis/"+taxiID, nil, "bench-p-"+r.run, "")
				if err != nil || status != http.StatusOK {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

// race releases n workers together and tallies the outcome codes they report.
func (r *Runner) race(ctx context.Context, n int, work func(i int) (int, string)) map[string]int {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[string]int{}
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, code := work(i)
			mu.Lock()
			codes[code]++
			mu.Unlock()
		}(i)
	}
	close(start)
	wg.Wait()
	return codes
}

func (r *Runner) startTaxi(ctx context.Context, driver string, capacity int) (string, error) {
	var t struct {
		ID string `json:"id"`
	}
	status, err := r.callJSON(ctx, http.MethodPost, "/api/driver/taxis", map[string]any{
		"capacity":    capacity,
		"routeId":     r.routeID,
		"currentStop": r.stops[0],
	}, driver, "driver", &t)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("register taxi: status=%d", status)
	}
	status, _, err = r.call(ctx, http.MethodPut, "/api/driver/taxis/"+t.ID+"/status", map[string]any{"status": "available"}, driver, "driver")
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("set available: status=%d", status)
	}
	return t.ID, nil
}

func (r *Runner) createRequest(ctx context.Context, passenger string) (string, error) {
	var req struct {
		ID string `json:"id"`
	}
	status, err := r.callJSON(ctx, http.MethodPost, "/api/requests", map[string]any{
		"type":      "ride",
		"routeId":   r.routeID,
		"startStop": r.stops[0],
		"destStop":  r.stops[len(r.stops)-1],
	}, passenger, "", &req)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create request: status=%d", status)
	}
	return req.ID, nil
}

func (r *Runner) accept(ctx context.Context, requestID, taxiID, driver string) (int, string) {
	var out struct {
		Outcome string `json:"outcome"`
		Code    string `json:"code"`
	}
	status, err := r.callJSON(ctx, http.MethodPost, "/api/driver/requests/"+requestID+"/accept?taxi_id="+taxiID, nil, driver, "driver", &out)
	if err != nil {
		return 0, "transport_error"
	}
	if out.Outcome != "" {
		return status, out.Outcome
	}
	return status, out.Code
}

func (r *Runner) callJSON(ctx context.Context, method, path string, body any, uid, role string, out any) (int, error) {
	status, data, err := r.call(ctx, method, path, body, uid, role)
	if err != nil {
		return 0, err
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return status, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return status, nil
}

// call identifies with X-User-ID, so the server must run without Firebase.
func (r *Runner) call(ctx context.Context, method, path string, body any, uid, role string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set("X-User-ID", uid)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}
