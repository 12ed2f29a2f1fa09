package main

import "testing"

func TestCarryAppParam(t *testing.T) {
	cases := []struct {
		name    string
		api     string
		pageURL string
		want    string
	}{
		{
			name:    "default flow",
			api:     "http://127.0.0.1:8080/io",
			pageURL: "http://127.0.0.1:8080/?app=index",
			want:    "http://127.0.0.1:8080/io?app=index",
		},
		{
			name:    "no app on the page",
			api:     "http://127.0.0.1:8080/io",
			pageURL: "http://127.0.0.1:8080/",
			want:    "http://127.0.0.1:8080/io",
		},
		{
			name:    "api already carries a query",
			api:     "http://127.0.0.1:8080/io?debug=1",
			pageURL: "http://127.0.0.1:8080/?app=sysinfo",
			want:    "http://127.0.0.1:8080/io?app=sysinfo&debug=1",
		},
		{
			name:    "similarly named parameter is not the app",
			api:     "http://127.0.0.1:8080/io",
			pageURL: "http://127.0.0.1:8080/?myapp=evil",
			want:    "http://127.0.0.1:8080/io",
		},
		{
			name:    "app among other parameters",
			api:     "http://127.0.0.1:8080/io",
			pageURL: "http://127.0.0.1:8080/?debug=1&app=index#frag",
			want:    "http://127.0.0.1:8080/io?app=index",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := carryAppParam(tc.api, tc.pageURL); got != tc.want {
				t.Fatalf("carryAppParam(%q, %q) = %q, want %q", tc.api, tc.pageURL, got, tc.want)
			}
		})
	}
}
