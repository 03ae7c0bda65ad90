// Package layout derives directory lists and release names from recipe settings.
package layout

import (
	"strings"
	"time"
)

// ReleaseFormat is the layout of release directory names.
const ReleaseFormat = "20060102150405"

// SiteDirs returns appDir/sites/<site>/<name> for every site and name, sites in
// the outer loop. The result keeps input order and duplicates.
func SiteDirs(appDir string, sites, names []string) []string {
	out := make([]string, 0, len(sites)*len(names))
	for _, site := range sites {
		for _, name := range names {
			out = append(out, appDir+"/sites/"+site+"/"+name)
		}
	}
	return out
}

// PrefixAll returns paths with appDir prepended to each.
func PrefixAll(appDir string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, Join(appDir, p))
	}
	return out
}

// Join joins two relative path fragments with a single slash. An empty side is
// dropped.
func Join(base, rel string) string {
	base = strings.TrimRight(base, "/")
	rel = strings.TrimLeft(rel, "/")
	switch {
	case base == "":
		return rel
	case rel == "":
		return base
	}
	return base + "/" + rel
}

// ReleaseName returns the directory name for a release started at t.
func ReleaseName(t time.Time) string {
	return t.UTC().Format(ReleaseFormat)
}
