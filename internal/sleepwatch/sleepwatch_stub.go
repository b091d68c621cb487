//go:build !linux

package sleepwatch

import "context"

// Start is a no-op off Linux; suspend detection relies on logind.
func (w *Watcher) Start(ctx context.Context) {}
