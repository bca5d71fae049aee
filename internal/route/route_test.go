package route

import (
	"reflect"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		wantDirectives Directives
		wantTarget     string
		wantOK         bool
	}{
		{
			name:           "plain domain",
			path:           "/api.example.com/v1/search",
			wantDirectives: Directives{},
			wantTarget:     "https://api.example.com/v1/search",
			wantOK:         true,
		},
		{
			name:           "domain only",
			path:           "/a.b/c",
			wantDirectives: Directives{},
			wantTarget:     "https://a.b/c",
			wantOK:         true,
		},
		{
			name:           "single directive",
			path:           "/proxy-x/host.tld/p",
			wantDirectives: Directives{"proxy-x"},
			wantTarget:     "https://host.tld/p",
			wantOK:         true,
		},
		{
			name:           "multiple directives",
			path:           "/proxy-no-streaming/proxy-large-timeout/api.example.com/endpoint",
			wantDirectives: Directives{"proxy-no-streaming", "proxy-large-timeout"},
			wantTarget:     "https://api.example.com/endpoint",
			wantOK:         true,
		},
		{
			name:   "no dotted segment",
			path:   "/just/some/segments",
			wantOK: false,
		},
		{
			name:   "empty path",
			path:   "",
			wantOK: false,
		},
		{
			name:   "root path",
			path:   "/",
			wantOK: false,
		},
		{
			name:           "missing leading slash is normalized",
			path:           "host.tld/p",
			wantDirectives: Directives{},
			wantTarget:     "https://host.tld/p",
			wantOK:         true,
		},
		{
			name:           "dotted directive segment is skipped",
			path:           "/proxy-v1.2/host.tld/p",
			wantDirectives: Directives{"proxy-v1.2"},
			wantTarget:     "https://host.tld/p",
			wantOK:         true,
		},
		{
			name:   "only dotted segment has directive prefix",
			path:   "/proxy-v1.2/nothing/here",
			wantOK: false,
		},
		{
			name:           "host with port",
			path:           "/127.0.0.1:8443/healthz",
			wantDirectives: Directives{},
			wantTarget:     "https://127.0.0.1:8443/healthz",
			wantOK:         true,
		},
		{
			name:           "trailing slash kept in target",
			path:           "/host.tld/p/",
			wantDirectives: Directives{},
			wantTarget:     "https://host.tld/p/",
			wantOK:         true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			directives, target, ok := Resolve(tt.path)

			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if !reflect.DeepEqual(directives, tt.wantDirectives) {
				t.Errorf("directives = %v, want %v", directives, tt.wantDirectives)
			}
			if target != tt.wantTarget {
				t.Errorf("target = %q, want %q", target, tt.wantTarget)
			}
		})
	}
}

func TestDirectivesHas(t *testing.T) {
	d := Directives{"proxy-no-streaming", "proxy-large-timeout"}

	if !d.Has(NoStreaming) {
		t.Errorf("Has(%q) = false, want true", NoStreaming)
	}
	if d.Has("proxy-unknown") {
		t.Error("Has(proxy-unknown) = true, want false")
	}
	if Directives(nil).Has(NoStreaming) {
		t.Error("nil directives should contain nothing")
	}
}
