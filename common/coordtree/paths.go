package coordtree

import (
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

const LockRoot = "/lock"

func validatePath(path string) bool {
	if len(path) < 2 || path[0] != '/' || path[len(path)-1] == '/' {
		return false
	}
	return !strings.Contains(path, "//")
}

func parentOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func childPrefix(path string) string {
	if path == "/" {
		return "/"
	}
	return path + "/"
}

// sortChildren orders numeric names numerically, followed by every other
// name in lexical order.
func sortChildren(names []string) {
	slices.SortFunc(names, func(a, b string) int {
		ai, aErr := strconv.Atoi(a)
		bi, bErr := strconv.Atoi(b)
		switch {
		case aErr == nil && bErr == nil:
			return ai - bi
		case aErr == nil:
			return -1
		case bErr == nil:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})
}
