package instrumentation

import "strings"

// RouteOther is the label used for paths outside the known route set.
const RouteOther = "other"

// RouteLabel maps a request path to a bounded set of metric label values.
// Exact matches win; otherwise the longest known prefix followed by "/" is
// used, and anything else becomes RouteOther so scanners probing random paths
// cannot inflate the series count.
func RouteLabel(path string, known []string) string {
	best := ""
	for _, route := range known {
		if path == route {
			return route
		}
		prefix := strings.TrimSuffix(route, "/") + "/"
		if strings.HasPrefix(path, prefix) && len(route) > len(best) {
			best = route
		}
	}
	if best != "" {
		return best
	}
	return RouteOther
}
