package fswatch

import "runtime"

// isWindows reports whether the Correlator should prefer WindowsID over
// inode identity matching.
func isWindows() bool {
	return runtime.GOOS == "windows"
}
