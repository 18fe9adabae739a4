/*
Package health provides a small, pluggable health-checking toolkit: a
Checker interface, a Result of one check, and a Status that debounces
flapping results behind a consecutive-failure/success threshold.

dismerge's sync engine (internal/sync) uses the TCPChecker here to probe
peer reachability ahead of each sync attempt, recording a debounced
per-peer verdict callers can read back through Engine.Reachable; it does
not gate the sync attempt itself, which retries with its own backoff
regardless. It is not the node's own readiness/liveness surface — that's
internal/health, which answers "is this node ready to serve requests"
rather than "is that other peer up".

	checker := health.NewTCPChecker(peerAddr)
	status := health.NewStatus()
	status.Update(checker.Check(ctx), health.DefaultConfig())
	if !status.Healthy {
		// peer considered unreachable after Config.Retries consecutive failures
	}
*/
package health
