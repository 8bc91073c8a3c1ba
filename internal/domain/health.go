package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Detail    string `json:"detail,omitempty"`
}

// NotificationMetrics is returned by GET /v1/metrics/notifications.
type NotificationMetrics struct {
	Sent        int64   `json:"sent"`
	Skipped     int64   `json:"skipped"`
	Unavailable int64   `json:"unavailable"`
	Failed      int64   `json:"failed"`
	FailureRate float64 `json:"failureRate"`
	Period      string  `json:"period"`
}

// SuccessResponse wraps a successful acknowledgement.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
