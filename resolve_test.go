package mcp_test

import (
	"testing"

	mcp "github.com/MegaGrindStone/go-mcp-sse"
)

func TestResolveEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		endpoint string
		want     string
	}{
		{
			name:     "absolute path replaces base path",
			base:     "http://h:8080/sse",
			endpoint: "/messages?x=1",
			want:     "http://h:8080/messages?x=1",
		},
		{
			name:     "relative path is appended",
			base:     "http://h:8080/sse",
			endpoint: "messages",
			want:     "http://h:8080/sse/messages",
		},
		{
			name:     "base without path",
			base:     "http://h:8080",
			endpoint: "/m",
			want:     "http://h:8080/m",
		},
		{
			name:     "relative path on base without path",
			base:     "http://h:8080",
			endpoint: "m",
			want:     "http://h:8080/m",
		},
		{
			name:     "trailing slash is not duplicated",
			base:     "http://h:8080/sse/",
			endpoint: "messages?sessionID=abc",
			want:     "http://h:8080/sse/messages?sessionID=abc",
		},
		{
			name:     "absolute url is kept",
			base:     "http://h:8080/sse",
			endpoint: "https://other.example.com/rpc?s=1",
			want:     "https://other.example.com/rpc?s=1",
		},
		{
			name:     "absolute url is kept regardless of base",
			base:     "not a url",
			endpoint: "http://x/y",
			want:     "http://x/y",
		},
		{
			name:     "base query is dropped",
			base:     "https://h/sse?token=t",
			endpoint: "/messages",
			want:     "https://h/messages",
		},
		{
			name:     "surrounding whitespace is ignored",
			base:     "http://h:8080/sse",
			endpoint: " /messages\n",
			want:     "http://h:8080/messages",
		},
		{
			name:     "empty endpoint keeps base path",
			base:     "http://h:8080/sse",
			endpoint: "",
			want:     "http://h:8080/sse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mcp.ResolveEndpoint(tt.base, tt.endpoint); got != tt.want {
				t.Errorf("ResolveEndpoint(%q, %q) = %q, want %q", tt.base, tt.endpoint, got, tt.want)
			}
		})
	}
}
