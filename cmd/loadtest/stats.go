package main

import (
	"math"
	"slices"
	"strconv"
	"sync"
	"time"
)

// scenarioMethod: ключ, под которым учитывается сценарий целиком.
const scenarioMethod = "scenario"

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	DoubleCharged     int64                   `json:"double_charged"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

// sample: один вызов API или сценарий.
type sample struct {
	latency time.Duration
	code    string
	ok      bool
}

// collector накапливает результаты вызовов. code: HTTP-статус или "transport_error".
type collector struct {
	mu            sync.Mutex
	samples       map[string][]sample
	doubleCharged int64
}

func newCollector() *collector {
	return &collector{samples: make(map[string][]sample)}
}

func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	c.samples[method] = append(c.samples[method], sample{latency: latency, code: code, ok: ok})
	c.mu.Unlock()
}

func (c *collector) recordDoubleCharge() {
	c.mu.Lock()
	c.doubleCharged++
	c.mu.Unlock()
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		DoubleCharged:   c.doubleCharged,
		Methods:         make(map[string]methodReport, len(c.samples)),
	}
	for method, samples := range c.samples {
		result.Methods[method] = summarize(samples)
	}

	if scenario, ok := result.Methods[scenarioMethod]; ok {
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if elapsed > 0 {
		result.RPS = float64(result.TotalScenarios) / elapsed.Seconds()
	}
	return result
}

func summarize(samples []sample) methodReport {
	out := methodReport{Codes: make(map[string]int64)}
	latencies := make([]float64, 0, len(samples))
	for _, s := range samples {
		out.Calls++
		if s.ok {
			out.Success++
		} else {
			out.Failed++
		}
		out.Codes[s.code]++
		latencies = append(latencies, milliseconds(s.latency))
	}
	out.ErrorRate = ratio(out.Failed, out.Calls)
	out.LatencyMs = buildLatencySummary(latencies)
	return out
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func statusCode(code int) string {
	if code == 0 {
		return "transport_error"
	}
	return strconv.Itoa(code)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := slices.Sorted(slices.Values(values))

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

// percentile интерполирует между соседними значениями отсортированной выборки; q в [0, 1].
func percentile(sorted []float64, q float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := min(lo+1, len(sorted)-1)
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
