package store

import (
	"context"
	"time"
)

// HealthStatus reports database connectivity and pool utilization for the
// /healthz endpoint.
type HealthStatus struct {
	Status          string        `json:"status"`
	ResponseTime    time.Duration `json:"response_time_ms"`
	AcquiredConns   int32         `json:"acquired_conns"`
	IdleConns       int32         `json:"idle_conns"`
	MaxConns        int32         `json:"max_conns"`
	TotalConns      int32         `json:"total_conns"`
}

// Health pings the pool and reports its current statistics.
func (s *Store) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	if err := s.Pool.Ping(ctx); err != nil {
		return &HealthStatus{Status: "unhealthy", ResponseTime: time.Since(start)}, err
	}

	stat := s.Pool.Stat()
	return &HealthStatus{
		Status:        "healthy",
		ResponseTime:  time.Since(start),
		AcquiredConns: stat.AcquiredConns(),
		IdleConns:     stat.IdleConns(),
		MaxConns:      stat.MaxConns(),
		TotalConns:    stat.TotalConns(),
	}, nil
}
