package health

import (
	"fmt"

	"aigw/internal/backend"
	"aigw/internal/cache"
)

// BackendsCheck reports readiness based on monitored backend state.
// The gateway is unhealthy only when some service has no usable
// instance at all; individual sick instances degrade it.
func BackendsCheck(registry *backend.Registry) CheckFunc {
	return func() Check {
		unusableServices := 0
		sickInstances := 0
		services := 0

		for _, instances := range registry.Services() {
			services++
			usable := 0
			for _, inst := range instances {
				switch inst.State() {
				case backend.StateHealthy, backend.StateUnknown:
					usable++
				case backend.StateDegraded:
					usable++
					sickInstances++
				default:
					sickInstances++
				}
			}
			if usable == 0 {
				unusableServices++
			}
		}

		switch {
		case services == 0:
			return Check{Status: StatusUnhealthy, Message: "no backends configured"}
		case unusableServices > 0:
			return Check{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%d of %d services have no usable instance", unusableServices, services),
			}
		case sickInstances > 0:
			return Check{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d instances degraded or down", sickInstances),
			}
		default:
			return Check{Status: StatusHealthy}
		}
	}
}

// CacheCheck reports the tiered cache state. A gateway with no cache
// tiers still serves traffic, so a disabled cache is only degraded.
func CacheCheck(ml *cache.MultiLevel) CheckFunc {
	return func() Check {
		if ml == nil || !ml.Enabled() {
			return Check{Status: StatusDegraded, Message: "cache disabled"}
		}
		return Check{Status: StatusHealthy}
	}
}
