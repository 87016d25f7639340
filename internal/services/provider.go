package services

import "context"

// Checker is a dependency whose availability gates readiness
type Checker interface {
	// Name identifies the dependency in health reports
	Name() string

	// HealthCheck checks if the dependency is available
	HealthCheck(ctx context.Context) error
}

// BaseChecker provides the name for checkers
type BaseChecker struct {
	name string
}

// Name returns the dependency name
func (c *BaseChecker) Name() string {
	return c.name
}

// Pinger is anything that can prove connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker adapts a Pinger to a Checker
type PingChecker struct {
	BaseChecker
	target Pinger
}

// NewPingChecker creates a checker named name around target
func NewPingChecker(name string, target Pinger) *PingChecker {
	return &PingChecker{
		BaseChecker: BaseChecker{name: name},
		target:      target,
	}
}

// HealthCheck pings the target
func (c *PingChecker) HealthCheck(ctx context.Context) error {
	return c.target.Ping(ctx)
}
