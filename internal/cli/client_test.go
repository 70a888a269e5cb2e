package cli

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/ipsix/plugscan/internal/plugin"
)

func TestClientAddsAuthHeader(t *testing.T) {
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if got := req.Header.Get("Authorization"); got != "Bearer token" {
			t.Fatalf("expected Authorization header, got %q", got)
		}
		body := io.NopCloser(strings.NewReader(`{"ok":true}`))
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       body,
			Header:     http.Header{},
		}, nil
	})

	client := NewClient("http://127.0.0.1:8789", "token")
	client.Client = &http.Client{Transport: transport}
	raw, err := client.DoJSON(context.Background(), http.MethodGet, "/health", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if !strings.Contains(string(raw), "ok") {
		t.Fatalf("expected response body, got %s", string(raw))
	}
}

func TestClientErrorOnNon2xx(t *testing.T) {
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		body := io.NopCloser(strings.NewReader(`{"error":"nope"}`))
		return &http.Response{
			StatusCode: http.StatusUnauthorized,
			Status:     "401 Unauthorized",
			Body:       body,
			Header:     http.Header{},
		}, nil
	})

	client := NewClient("http://127.0.0.1:8789", "token")
	client.Client = &http.Client{Transport: transport}
	_, err := client.DoJSON(context.Background(), http.MethodGet, "/status", nil)
	if err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (rt roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req)
}

func TestClientTypedCalls(t *testing.T) {
	var paths []string
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		paths = append(paths, req.Method+" "+req.URL.RequestURI())
		body := `{}`
		switch req.URL.Path {
		case "/status":
			body = `{"state":"scanning","current":"Vital","plugins":12}`
		case "/plugins":
			body = `[{"name":"Dexed","protocol":"LV2","category":"Instrument"}]`
		case "/history":
			body = `[{"id":"s1","state":"completed","total":12}]`
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{},
		}, nil
	})

	client := NewClient("http://127.0.0.1:8789/", "token")
	client.Client = &http.Client{Transport: transport}
	ctx := context.Background()

	status, err := client.Status(ctx)
	if err != nil || status.State != "scanning" || status.Plugins != 12 {
		t.Fatalf("unexpected status %+v (%v)", status, err)
	}
	descs, err := client.Plugins(ctx, plugin.ProtocolLV2, true)
	if err != nil || len(descs) != 1 || descs[0].Protocol != plugin.ProtocolLV2 {
		t.Fatalf("unexpected plugins %+v (%v)", descs, err)
	}
	records, err := client.History(ctx, 5)
	if err != nil || len(records) != 1 || records[0].ID != "s1" {
		t.Fatalf("unexpected history %+v (%v)", records, err)
	}
	if err := client.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if err := client.Cancel(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	want := []string{
		"GET /status",
		"GET /plugins?instruments=true&protocol=lv2",
		"GET /history?limit=5",
		"POST /scan",
		"POST /scan/cancel",
	}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected requests %v", paths)
	}
}
