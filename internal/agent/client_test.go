package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotadominios/fleet-sync/internal/metrics"
)

func TestClientExecute(t *testing.T) {
	tests := []struct {
		name         string
		handler      http.HandlerFunc
		timeout      time.Duration
		expectKind   string
		expectStatus int
		expectAuth   bool
	}{
		{
			name: "success passes bearer credential",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != "Bearer secret" {
					t.Errorf("expected bearer header, got %q", got)
				}
				w.Write([]byte(`{"status":"healthy"}`))
			},
		},
		{
			name: "non-2xx response carries real status and body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("boom"))
			},
			expectKind:   KindHTTP,
			expectStatus: http.StatusInternalServerError,
		},
		{
			name: "unauthorized classifies as auth failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid token"}`))
			},
			expectKind:   KindHTTP,
			expectStatus: http.StatusUnauthorized,
			expectAuth:   true,
		},
		{
			name: "timeout aborts the in-flight request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout:      30 * time.Millisecond,
			expectKind:   KindTimeout,
			expectStatus: http.StatusRequestTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			c := New(srv.URL, "secret", timeout, metrics.New(false))

			_, err := c.Execute(context.Background(), http.MethodGet, "/status", nil)
			if tt.expectKind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var ae *Error
			if !errors.As(err, &ae) {
				t.Fatalf("expected classified error, got %v", err)
			}
			if ae.Kind != tt.expectKind {
				t.Errorf("expected kind %q but got %q", tt.expectKind, ae.Kind)
			}
			if ae.Status != tt.expectStatus {
				t.Errorf("expected status %d but got %d", tt.expectStatus, ae.Status)
			}
			if IsAuthError(err) != tt.expectAuth {
				t.Errorf("expected IsAuthError=%v", tt.expectAuth)
			}
		})
	}
}

func TestClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := New(srv.URL, "secret", time.Second, metrics.New(false))
	_, err := c.Execute(context.Background(), http.MethodGet, "/status", nil)

	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected classified error, got %v", err)
	}
	if ae.Kind != KindNetwork {
		t.Errorf("expected kind %q but got %q", KindNetwork, ae.Kind)
	}
	if ae.Status != 0 {
		t.Errorf("expected status surrogate 0 but got %d", ae.Status)
	}
	if IsTimeout(err) {
		t.Error("network error must not classify as timeout")
	}
}

func TestClientClassifiedErrorPropagatesUnchanged(t *testing.T) {
	orig := &Error{Kind: KindHTTP, Status: http.StatusBadGateway, Body: "upstream down"}
	got := classify(context.Background(), orig)
	if got != orig {
		t.Errorf("expected already-classified error to pass through, got %+v", got)
	}
}

func TestReadCaddyfile(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		expect    string
		expectErr bool
	}{
		{
			name:     "returns command output",
			response: `{"success":true,"output":"example.com {\n}\n"}`,
			expect:   "example.com {\n}\n",
		},
		{
			name:      "exec failure surfaces agent error",
			response:  `{"success":false,"error":"Command not allowed"}`,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/exec-command" {
					t.Errorf("expected exec-command path, got %s", r.URL.Path)
				}
				if r.Method != http.MethodPost {
					t.Errorf("expected POST, got %s", r.Method)
				}
				w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			c := New(srv.URL, "secret", time.Second, metrics.New(false))
			out, err := c.ReadCaddyfile(context.Background())
			if tt.expectErr {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out != tt.expect {
				t.Errorf("expected output %q but got %q", tt.expect, out)
			}
		})
	}
}

func TestTypedOperations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			w.Write([]byte(`{"status":"healthy","uptime":"3d"}`))
		case "/caddy/hosts":
			w.Write([]byte(`[{"hostname":"a.com","upstream":"localhost:3000","configured":true}]`))
		case "/caddy/sync":
			w.Write([]byte(`{"updated":["a.com"],"errors":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", time.Second, metrics.New(false))
	ctx := context.Background()

	status, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != "healthy" || status.Uptime != "3d" {
		t.Errorf("unexpected status response: %+v", status)
	}

	hosts, err := c.Hosts(ctx)
	if err != nil {
		t.Fatalf("hosts: %v", err)
	}
	if len(hosts) != 1 || hosts[0].Hostname != "a.com" || !hosts[0].Configured {
		t.Errorf("unexpected hosts response: %+v", hosts)
	}

	sync, err := c.SyncHosts(ctx, []string{"a.com"})
	if err != nil {
		t.Fatalf("sync hosts: %v", err)
	}
	if len(sync.Updated) != 1 || sync.Updated[0] != "a.com" {
		t.Errorf("unexpected sync response: %+v", sync)
	}
}
