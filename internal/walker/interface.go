package walker

import "github.com/lyallcooper/rescuex/internal/types"

// WalkerInterface defines the traversal used by the scan coordinator.
// This allows mocking the walker in tests.
type WalkerInterface interface {
	// Walk emits accepted files for req and returns how many were accepted
	Walk(req types.ScanRequest, stats *Stats, onAccepted func(types.FileRecord), shouldStop func() bool) int
}

// Ensure Walker implements WalkerInterface
var _ WalkerInterface = (*Walker)(nil)
