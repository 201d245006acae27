package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

// Facts are fixed at start-up and reported by /api/about.
type Facts struct {
	Store         string   `json:"store"`
	StoreSize     string   `json:"store_size"`
	Boots         uint32   `json:"boots"`
	SchemaVersion uint     `json:"archive_schema,omitempty"`
	Inputs        []string `json:"inputs"`
}

type AboutResponse struct {
	Service   string `json:"service"`
	NowUTC    string `json:"now_utc"`
	GoVersion string `json:"go_version"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	Facts
}

func about(now time.Time, facts Facts) AboutResponse {
	resp := AboutResponse{
		Service:   serviceName,
		NowUTC:    now.UTC().Format(time.RFC3339Nano),
		GoVersion: runtime.Version(),
		Facts:     facts,
	}
	if resp.Inputs == nil {
		resp.Inputs = []string{}
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		resp.Version = bi.Main.Version
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				resp.Commit = s.Value
			case "vcs.modified":
				resp.Dirty = s.Value == "true"
			}
		}
	}
	return resp
}

func AboutHandler(facts Facts) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, about(time.Now(), facts))
	})
}
