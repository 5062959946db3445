//go:build linux

package tracker

import (
	"fmt"
	"os"
	"strconv"
)

// scanPipePeers scans /proc for other processes whose stdio (fd 0-2)
// resolves to the same pipe target, skipping self. Grounded on
// original_source/repeatfs/provenance/process_record.py's
// _record_pipes, which performs the identical /proc/<pid>/fd/<n>
// readlink scan to find the other end of a pipe.
func scanPipePeers(target string, self int) []int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}

	var peers []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}

		for fd := 0; fd < 3; fd++ {
			link, err := os.Readlink(fmt.Sprintf("/proc/%d/fd/%d", pid, fd))
			if err != nil {
				continue
			}
			if link == target {
				peers = append(peers, pid)
				break
			}
		}
	}
	return peers
}
