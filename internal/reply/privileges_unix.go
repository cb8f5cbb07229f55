//go:build unix

package reply

import (
	"fmt"
	"os"
	"strings"
)

// hasNetRawCapability checks CAP_NET_RAW on Linux via /proc/self/status;
// always false on non-Linux Unix where the file doesn't exist.
func hasNetRawCapability() bool {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "CapEff:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return false
		}
		var capMask uint64
		if _, err := fmt.Sscanf(fields[1], "%x", &capMask); err != nil {
			return false
		}
		const capNetRaw = 1 << 13
		return capMask&capNetRaw != 0
	}
	return false
}

func hasPrivilege() bool {
	return os.Geteuid() == 0 || hasNetRawCapability()
}
