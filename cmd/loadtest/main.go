package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type loadMode string

const (
	modeCreate    loadMode = "create"
	modeCreatePay loadMode = "create-pay"
	// modeDoublePay отправляет две одновременные оплаты одного заказа; успешной должна быть ровно одна.
	modeDoublePay loadMode = "double-pay"
)

type config struct {
	addr         string
	total        int
	totalSet     bool
	duration     time.Duration
	concurrency  int
	timeout      time.Duration
	mode         loadMode
	cardToken    string
	productPrice string
	quantity     int
	outputPath   string
}

func parseConfig(args []string) (config, error) {
	var (
		cfg           config
		modeValue     string
		timeoutValue  string
		durationValue string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "skyshop HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-pay | double-pay")
	fs.StringVar(&cfg.cardToken, "card-token", "4111-1111-1111-1111", "card token used for online payments")
	fs.StringVar(&cfg.productPrice, "product-price", "10.00", "price of the product seeded for the run")
	fs.IntVar(&cfg.quantity, "quantity", 2, "item quantity per order")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, errors.Wrap(err, "parse timeout")
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, errors.Wrap(err, "parse duration")
	}
	cfg.duration = duration

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.mode != modeCreate && strings.TrimSpace(cfg.cardToken) == "":
		return cfg, errors.New("card-token is required for payment modes")
	case !strings.HasPrefix(cfg.addr, "http://") && !strings.HasPrefix(cfg.addr, "https://"):
		return cfg, errors.Newf("addr must be an http(s) URL: %s", cfg.addr)
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreatePay, modeDoublePay:
		return mode, nil
	default:
		return "", errors.Newf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result, err := runLoad(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test setup failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || result.DoubleCharged > 0 {
		os.Exit(1)
	}
}

// runLoad заводит товар для прогона и выполняет сценарии в cfg.concurrency воркерах.
func runLoad(cfg config) (report, error) {
	col := newCollector()
	client := newAPIClient(cfg.addr, cfg.timeout, cfg.concurrency, col)

	runID := uuid.NewString()[:8]
	productID, err := client.createProduct("loadtest-"+runID, cfg.productPrice)
	if err != nil {
		return report{}, errors.Wrap(err, "seed product")
	}

	startedAt := time.Now()
	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				runScenario(client, cfg, productID, runID, index)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt)), nil
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(client *apiClient, cfg config, productID, runID string, index int) {
	start := time.Now()
	err := scenario(client, cfg, productID, runID, index)
	code := "ok"
	if err != nil {
		code = "failed"
	}
	client.col.record(scenarioMethod, time.Since(start), code, err == nil)
}

func scenario(client *apiClient, cfg config, productID, runID string, index int) error {
	order, err := client.createOrder(orderRequest{
		BuyerEmail: fmt.Sprintf("load-%s-%d@example.com", runID, index),
		SeatLetter: string(rune('A' + index%6)),
		SeatNumber: index%30 + 1,
		Items:      []orderItem{{ProductID: productID, Quantity: cfg.quantity}},
	})
	if err != nil {
		return err
	}
	if order.ID == "" {
		return errors.New("create response returned empty order id")
	}

	switch cfg.mode {
	case modeCreatePay:
		_, err := client.payOrder(order.ID, cfg.cardToken)
		return err
	case modeDoublePay:
		return doublePay(client, order.ID, cfg.cardToken)
	default:
		return nil
	}
}

// doublePay считает заказ списанным дважды, если обе параллельные оплаты вернули 200.
func doublePay(client *apiClient, orderID, cardToken string) error {
	statuses := make([]int, 2)
	var wg sync.WaitGroup
	for i := range statuses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i], _ = client.payOrder(orderID, cardToken)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, status := range statuses {
		switch status {
		case http.StatusOK:
			succeeded++
		case http.StatusBadRequest, http.StatusConflict:
		default:
			return errors.Newf("unexpected payment statuses %v", statuses)
		}
	}
	switch succeeded {
	case 1:
		return nil
	case 2:
		client.col.recordDoubleCharge()
		return errors.Newf("order %s charged twice", orderID)
	default:
		return errors.Newf("order %s was not paid: statuses %v", orderID, statuses)
	}
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return errors.Newf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f double_charged=%d\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
		result.DoubleCharged,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != scenarioMethod {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}
