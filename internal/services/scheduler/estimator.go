package scheduler

import "time"

// EstimateCompletion projects when a run will finish from its progress so
// far. Returns nil when nothing has been processed yet, the total is still
// unknown, or no time has elapsed, since there is no rate to extrapolate from.
func EstimateCompletion(total *int, processed int, startedAt, now time.Time) *time.Time {
	if processed <= 0 || total == nil {
		return nil
	}
	elapsed := now.Sub(startedAt).Seconds()
	if elapsed <= 0 {
		return nil
	}
	rate := float64(processed) / elapsed
	remaining := float64(*total - processed)
	if remaining < 0 {
		remaining = 0
	}
	eta := now.Add(time.Duration(remaining / rate * float64(time.Second)))
	return &eta
}
