package registry

import (
	"fmt"
	"regexp"
)

// Legacy files carry a single client per record and the path is usually
// written bare: `/srv/share 10.0.0.0/24(rw,sync)`. Consecutive records that
// share a name and path are merged into one record by fold.
var legacyDataLineRe = regexp.MustCompile(`^(?:"([^"]*)"|([^"\s]+))\s+([^\(\s]+)\(([^\)]*)\)\s*$`)

func parseLegacyDataLine(line string) (string, []ClientRule, error) {
	m := legacyDataLineRe.FindStringSubmatch(line)
	if m == nil {
		return "", nil, fmt.Errorf("legacy data line %q is not `<path> <host>(<options>)`", line)
	}
	path := m[1]
	if path == "" {
		path = m[2]
	}
	return path, []ClientRule{{Host: m[3], Options: m[4]}}, nil
}
