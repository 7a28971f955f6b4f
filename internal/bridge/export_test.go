// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package bridge

import "time"

// NextDelay exposes the backoff step for tests.
func NextDelay(current, cap time.Duration) time.Duration {
	return nextDelay(current, cap)
}
