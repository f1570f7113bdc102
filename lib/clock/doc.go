// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for every component that expires,
// retries, or sweeps. Production code is handed [Real]; tests hand in
// a [FakeClock] and move time forward explicitly with Advance, so TTL
// expiry and retry backoff are exercised without wall-clock waiting.
//
// A goroutine that blocks on the fake clock (Sleep, After, a ticker)
// registers a pending waiter. Tests call WaitForWaiters before Advance
// to avoid racing the goroutine's registration:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go reaper.Run(ctx)
//	fake.WaitForWaiters(1)
//	fake.Advance(time.Minute)
package clock
