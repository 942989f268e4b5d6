// Package coordinator polls one Timerly display and caches the result.
//
// A Coordinator fetches GET /timer on a fixed interval, tolerates short runs
// of failed polls, and schedules one extra refresh just after a running
// timer is due to end so the finished state shows up promptly.
//
// Failure handling:
//
//	failures < threshold   previous data kept, update reported as successful
//	failures >= threshold  update fails with ErrUpdateFailed
//	any success            failure count reset to zero
//
// All refreshes for a coordinator are serialized. The polling loop, the
// post-expiry job and callers of Refresh never overlap.
package coordinator
