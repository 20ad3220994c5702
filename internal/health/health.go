package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"yuzu/voicegw/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Pinger is satisfied by store.Postgres.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs the readiness checks. DB may be nil when the gateway runs on
// the in-memory store; the database check is then omitted.
type Checker struct {
	Config     config.Config
	DB         Pinger
	HTTPClient *http.Client
}

// CheckAll runs all health checks and returns combined status
func (c Checker) CheckAll(ctx context.Context) HealthStatus {
	checks := []CheckResult{c.checkOpenAI(ctx)}
	if c.DB != nil {
		checks = append(checks, c.checkDatabase(ctx))
	}

	allOK := true
	for _, r := range checks {
		if !r.OK {
			allOK = false
		}
	}

	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

func (c Checker) checkOpenAI(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "openai"}

	if c.Config.OpenAI.APIKey == "" {
		result.Error = "OPENAI_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}

	opts := []option.RequestOption{
		option.WithAPIKey(c.Config.OpenAI.APIKey),
		option.WithMaxRetries(0),
	}
	if c.Config.OpenAI.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.Config.OpenAI.BaseURL))
	}
	if c.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(c.HTTPClient))
	}
	client := openai.NewClient(opts...)

	// Listing models is the cheapest authenticated call.
	_, err := client.Models.List(ctx)
	result.Latency = time.Since(start)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			result.Error = "invalid API key (401)"
			return result
		}
		result.Error = fmt.Sprintf("request failed: %v", err)
		return result
	}

	result.OK = true
	return result
}

func (c Checker) checkDatabase(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "database"}

	err := c.DB.Ping(ctx)
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = fmt.Sprintf("ping failed: %v", err)
		return result
	}

	result.OK = true
	return result
}
