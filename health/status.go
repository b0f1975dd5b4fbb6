package health

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/c360/mediacompose/component"
)

// State is the coarse health of a unit.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health report of one unit, optionally with nested reports.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	State       State     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries the counters a unit reports alongside its state.
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	ErrorCount   int           `json:"error_count"`
	Frames       uint64        `json:"frames,omitempty"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

func (s Status) IsHealthy() bool   { return s.State == StateHealthy }
func (s Status) IsDegraded() bool  { return s.State == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

// WithMetrics returns a copy of s carrying m.
func (s Status) WithMetrics(m *Metrics) Status {
	s.Metrics = m
	return s
}

// WithSubStatus returns a copy of s with sub appended. s is not modified.
func (s Status) WithSubStatus(sub Status) Status {
	s.SubStatuses = append(slices.Clone(s.SubStatuses), sub)
	return s
}

func newStatus(name string, state State, message string) Status {
	return Status{
		Component: name,
		Healthy:   state == StateHealthy,
		State:     state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewHealthy(name, message string) Status   { return newStatus(name, StateHealthy, message) }
func NewDegraded(name, message string) Status  { return newStatus(name, StateDegraded, message) }
func NewUnhealthy(name, message string) Status { return newStatus(name, StateUnhealthy, message) }

// Aggregate folds sub reports into one report named name.
func Aggregate(name string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(name, "No sub-components to aggregate")
	}

	var unhealthy, degraded bool
	for _, sub := range subs {
		switch sub.State {
		case StateUnhealthy:
			unhealthy = true
		case StateDegraded:
			degraded = true
		}
	}

	var status Status
	switch {
	case unhealthy:
		status = NewUnhealthy(name, "One or more sub-components are unhealthy")
	case degraded:
		status = NewDegraded(name, "One or more sub-components are degraded")
	default:
		status = NewHealthy(name, "All sub-components are healthy")
	}
	status.SubStatuses = slices.Clone(subs)
	slices.SortFunc(status.SubStatuses, func(a, b Status) int {
		return strings.Compare(a.Component, b.Component)
	})
	return status
}

// FromComponentHealth converts a component's self-reported health.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	state := StateUnhealthy
	if ch.Healthy {
		state = StateHealthy
	}
	message := "Component healthy"
	if ch.LastError != "" {
		message = sanitizeErrorMessage(ch.LastError)
	}
	return newStatus(name, state, message).WithMetrics(&Metrics{
		Uptime:       ch.Uptime,
		ErrorCount:   ch.ErrorCount,
		LastActivity: ch.LastCheck,
	})
}

func sanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}
	out := urlRegex.ReplaceAllString(msg, "[URL]")
	out = unixPathRegex.ReplaceAllString(out, "[PATH]")
	out = ipAddrRegex.ReplaceAllString(out, "[IP]")
	out = portRegex.ReplaceAllString(out, "[PORT]")
	return credentialRegex.ReplaceAllString(out, "[REDACTED]")
}
