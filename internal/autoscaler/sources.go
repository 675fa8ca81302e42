package autoscaler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/internal/resilience"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

// fetchValues resolves every metric ref of the policy concurrently. A
// ref that cannot be resolved contributes 0 so one dead source cannot
// stall or veto the whole evaluation.
func (a *AutoScaler) fetchValues(ctx context.Context, p *models.ScalingPolicy) map[string]float64 {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		values = make(map[string]float64, len(p.Metrics))
	)
	for _, ref := range p.Metrics {
		ref := ref
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := a.fetchValue(ctx, ref)
			if err != nil {
				logger.WithService(p.Service).Warnf("Metric %s unavailable, substituting 0: %v", ref.Name, err)
				v = 0
			}
			mu.Lock()
			values[ref.Name] = v
			mu.Unlock()
		}()
	}
	wg.Wait()
	return values
}

func (a *AutoScaler) fetchValue(ctx context.Context, ref models.ScalingMetricRef) (float64, error) {
	switch ref.Source {
	case models.SourceBusinessMetrics:
		v, err := a.store.GetValue(ctx, ref.Name)
		if err != nil {
			return 0, err
		}
		return v.Value, nil
	case models.SourceCustom:
		a.fetcherMu.RLock()
		fn, ok := a.fetchers[ref.Name]
		a.fetcherMu.RUnlock()
		if !ok {
			return 0, fmt.Errorf("no value function registered for %s", ref.Name)
		}
		return fn(ctx)
	case models.SourcePrometheus:
		if a.prom == nil {
			return 0, errors.New("prometheus source not configured")
		}
		query := ref.Query
		if query == "" {
			query = ref.Name
		}
		return a.prom.Query(ctx, query)
	case models.SourceSystem:
		return systemValue(ref.Name)
	default:
		return 0, fmt.Errorf("unsupported metric source %q", ref.Source)
	}
}

func systemValue(name string) (float64, error) {
	switch name {
	case "goroutines", "runtime_goroutines":
		return float64(runtime.NumGoroutine()), nil
	case "heap_bytes", "runtime_heap_bytes":
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return float64(ms.HeapAlloc), nil
	default:
		return 0, fmt.Errorf("unsupported system metric %q", name)
	}
}

// prometheusClient runs instant queries against the Prometheus HTTP
// API. A breaker guards the transport so a dead backend fails fast
// instead of costing the full client timeout on every ref of every
// evaluation cycle.
type prometheusClient struct {
	baseURL string
	client  *http.Client
	breaker *resilience.Breaker
}

func newPrometheusClient(baseURL string) *prometheusClient {
	return &prometheusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
		breaker: resilience.New(resilience.Config{
			Name:          "prometheus",
			MaxFailures:   5,
			ResetAfter:    30 * time.Second,
			OnStateChange: logBreakerShift,
		}),
	}
}

func logBreakerShift(name string, from, to resilience.State) {
	if to == resilience.StateOpen {
		logger.Warnf("%s breaker opened, queries fail fast until the backend recovers", name)
		return
	}
	logger.Infof("%s breaker %s", name, to)
}

type prometheusResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Value []interface{} `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// Query returns the first sample of an instant query, or 0 when the
// result set is empty.
func (c *prometheusClient) Query(ctx context.Context, query string) (float64, error) {
	var value float64
	err := c.breaker.Execute(func() error {
		v, err := c.query(ctx, query)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, err
}

func (c *prometheusClient) query(ctx context.Context, query string) (float64, error) {
	endpoint := fmt.Sprintf("%s/api/v1/query?query=%s", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("prometheus query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("prometheus query: unexpected status %d", resp.StatusCode)
	}

	var pr prometheusResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, fmt.Errorf("prometheus query: decode response: %w", err)
	}
	if pr.Status != "success" {
		return 0, fmt.Errorf("prometheus query: status %q", pr.Status)
	}
	if len(pr.Data.Result) == 0 {
		return 0, nil
	}
	sample := pr.Data.Result[0].Value
	if len(sample) < 2 {
		return 0, errors.New("prometheus query: malformed sample")
	}
	raw, ok := sample[1].(string)
	if !ok {
		return 0, errors.New("prometheus query: malformed sample value")
	}
	return strconv.ParseFloat(raw, 64)
}
