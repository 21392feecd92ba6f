package kpdex

import "context"

// HealthStatus represents the aggregated engine health.
type HealthStatus struct {
	Status  string            // "ok", "degraded", "error"
	Checks  map[string]string // component -> "ok"/"error"
	Vectors int
}

// Health checks the health of all engine components.
func (c *Client) Health(ctx context.Context) HealthStatus {
	report := c.healthSvc.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	hs := HealthStatus{Status: string(report.Status), Checks: checks}
	if report.Index != nil {
		hs.Vectors = report.Index.Vectors
	}
	return hs
}
