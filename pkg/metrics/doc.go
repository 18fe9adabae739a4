/*
Package metrics defines and registers dismerge's Prometheus metrics.

All metrics are package-level collectors registered at init() and exposed
via Handler() for promhttp scraping. Components update their own metrics
inline rather than through a separate polling collector, since the values
(outstanding changes, active watchers, ...) live in-process and a poll
would just add lag.

	http.Handle("/metrics", metrics.Handler())
	...
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.FlushDuration)
*/
package metrics
