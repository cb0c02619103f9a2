package http

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// RoutesConfig maps route patterns to configurations. Keys are either a
// bare path pattern ("/api/data") or "VERB /pattern" ("GET /api/*"). In a
// pattern, "*" matches exactly one path segment and "**" matches any
// suffix; everything else is literal.
type RoutesConfig map[string]RouteConfig

// compiledRoute is a parsed route ready for matching.
type compiledRoute struct {
	verb     string
	segments []string
	literal  bool
	// prefixLen counts the leading literal segments, used to pick the most
	// specific glob when several match.
	prefixLen int
	config    RouteConfig
}

func compileRoutes(routes RoutesConfig) []compiledRoute {
	compiled := make([]compiledRoute, 0, len(routes))
	for pattern, config := range routes {
		compiled = append(compiled, compileRoute(pattern, config))
	}
	// Literal routes first, then globs by descending literal prefix length.
	// Matching walks the slice in order and takes the first hit.
	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].literal != compiled[j].literal {
			return compiled[i].literal
		}
		return compiled[i].prefixLen > compiled[j].prefixLen
	})
	return compiled
}

func compileRoute(pattern string, config RouteConfig) compiledRoute {
	verb := "*"
	path := pattern
	if parts := strings.Fields(pattern); len(parts) == 2 {
		verb = strings.ToUpper(parts[0])
		path = parts[1]
	}

	segments := splitPath(normalizePath(path))

	literal := true
	prefixLen := 0
	counting := true
	for _, seg := range segments {
		if seg == "*" || seg == "**" {
			literal = false
			counting = false
			continue
		}
		if counting {
			prefixLen++
		}
	}

	return compiledRoute{
		verb:      verb,
		segments:  segments,
		literal:   literal,
		prefixLen: prefixLen,
		config:    config,
	}
}

// matchRoute finds the route config for a path+method, or nil.
func matchRoute(routes []compiledRoute, path, method string) *RouteConfig {
	pathSegments := splitPath(normalizePath(path))
	upperMethod := strings.ToUpper(method)

	for i := range routes {
		route := &routes[i]
		if route.verb != "*" && route.verb != upperMethod {
			continue
		}
		if segmentsMatch(route.segments, pathSegments) {
			config := route.config
			return &config
		}
	}
	return nil
}

func segmentsMatch(pattern, path []string) bool {
	for i, seg := range pattern {
		if seg == "**" {
			// Suffix glob: everything from here on matches.
			return true
		}
		if i >= len(path) {
			return false
		}
		if seg == "*" {
			continue
		}
		if seg != path[i] {
			return false
		}
	}
	return len(pattern) == len(path)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

var multiSlash = regexp.MustCompile(`/+`)

// normalizePath normalizes a URL path for matching: strips query and
// fragment, percent-decodes, collapses slashes, drops the trailing slash.
func normalizePath(path string) string {
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}

	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}

	path = strings.ReplaceAll(path, `\`, `/`)
	path = multiSlash.ReplaceAllString(path, `/`)
	path = strings.TrimSuffix(path, `/`)

	if path == "" {
		path = "/"
	}
	return path
}
