package services

import (
	"context"
	"errors"
	"sort"
	"time"

	domain "github.com/timberhaven/api/internal/domain"
)

// HealthCheckFunc probes one dependency. A nil return means healthy.
type HealthCheckFunc func(ctx context.Context) error

// SystemServiceDeps bundles named dependency probes for the readiness endpoint.
type SystemServiceDeps struct {
	Checks       map[string]HealthCheckFunc
	CheckTimeout time.Duration
	Clock        func() time.Time
}

type systemService struct {
	checks       map[string]HealthCheckFunc
	checkTimeout time.Duration
	now          func() time.Time
}

const defaultHealthCheckTimeout = 3 * time.Second

// NewSystemService constructs a SystemService over the given probes.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if len(deps.Checks) == 0 {
		return nil, errors.New("system service: at least one health check is required")
	}
	timeout := deps.CheckTimeout
	if timeout <= 0 {
		timeout = defaultHealthCheckTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	checks := make(map[string]HealthCheckFunc, len(deps.Checks))
	for name, check := range deps.Checks {
		if name == "" || check == nil {
			return nil, errors.New("system service: checks must be named and non-nil")
		}
		checks[name] = check
	}
	return &systemService{
		checks:       checks,
		checkTimeout: timeout,
		now:          func() time.Time { return clock().UTC() },
	}, nil
}

// HealthReport probes every dependency and aggregates the result. All probes
// failing reports down; a partial failure reports degraded.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report := SystemHealthReport{
		Checks:      make(map[string]domain.SystemHealthCheck, len(s.checks)),
		GeneratedAt: s.now(),
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failures := 0
	for _, name := range names {
		check := s.checks[name]
		start := s.now()
		checkCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
		err := check(checkCtx)
		cancel()

		result := domain.SystemHealthCheck{
			Status:    domain.HealthStatusOK,
			Latency:   s.now().Sub(start),
			CheckedAt: start,
		}
		if err != nil {
			failures++
			result.Status = domain.HealthStatusDown
			result.Error = err.Error()
		}
		report.Checks[name] = result
	}

	switch {
	case failures == 0:
		report.Status = domain.HealthStatusOK
	case failures == len(s.checks):
		report.Status = domain.HealthStatusDown
	default:
		report.Status = domain.HealthStatusDegraded
	}
	return report, nil
}
