// Package web includes the static web pages for the monitoring tool.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"runtime"
	"strings"
)

//go:embed dist/*
var staticAssets embed.FS

// GetAssets returns the static assets.
func GetAssets() http.FileSystem {
	if isDevelopmentMode() {
		_, assetPath, _, ok := runtime.Caller(0)
		if !ok {
			panic("error getting path")
		}

		assetPath = path.Join(path.Dir(assetPath), "dist")

		fmt.Fprintf(os.Stderr,
			"In monitoring tool development mode, serving assets from %s\n",
			assetPath)

		return http.Dir(assetPath)
	}

	subFS, err := fs.Sub(staticAssets, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(subFS)
}

// isDevelopmentMode returns true if environment variable MEMALLOC_MONITOR_DEV
// is set to true.
func isDevelopmentMode() bool {
	evValue, exist := os.LookupEnv("MEMALLOC_MONITOR_DEV")
	if !exist {
		return false
	}

	return strings.ToLower(evValue) == "true" || evValue == "1"
}
