package overlay

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
)

// guard protects the control endpoints. open is false when the server
// listens beyond loopback with neither a token nor allow_insecure; those
// endpoints are then not mounted at all.
type guard struct {
	token []byte
	open  bool
}

func newGuard(cfg ServerConfig, addr string) guard {
	tok := strings.TrimSpace(cfg.Token)
	return guard{
		token: []byte(tok),
		open:  tok != "" || cfg.AllowInsecure || isLoopbackAddr(addr),
	}
}

// wrap accepts "Authorization: Bearer <token>" or ?token=<token>, the
// latter so OBS browser sources can call the API from a plain URL.
func (g guard) wrap(h http.Handler) http.Handler {
	if len(g.token) == 0 {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), g.token) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func pprofPrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return "/debug/pprof/"
	}
	return "/" + p + "/"
}

// mountPprof serves the runtime profiles under prefix. pprof.Index only
// understands paths below /debug/pprof/, so other prefixes are rewritten.
func mountPprof(mux *http.ServeMux, prefix string, g guard) {
	prefix = pprofPrefix(prefix)
	named := map[string]http.HandlerFunc{
		"cmdline": pprof.Cmdline,
		"profile": pprof.Profile,
		"symbol":  pprof.Symbol,
		"trace":   pprof.Trace,
	}
	mux.Handle(prefix, g.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, prefix)
		if h, ok := named[name]; ok {
			h(w, r)
			return
		}
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + name
		pprof.Index(w, r2)
	})))
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	switch host = strings.TrimSpace(host); {
	case host == "":
		return false
	case strings.EqualFold(host, "localhost"):
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
