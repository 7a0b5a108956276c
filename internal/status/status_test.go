package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/alfredjeanlab/lastplay/internal/engine"
	"github.com/alfredjeanlab/lastplay/internal/model"
)

type fakeSource struct {
	mu sync.Mutex
	st engine.Status
}

func (f *fakeSource) Status() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeSource) setConnected(c bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.Connected = c
}

type fakeSaves struct {
	requests []model.SaveRequest
	full     bool
}

func (f *fakeSaves) Offer(r model.SaveRequest) bool {
	if f.full {
		return false
	}
	f.requests = append(f.requests, r)
	return true
}

type fakeTakes struct {
	takes []model.Take
	err   error
	game  string
	limit int
}

func (f *fakeTakes) RecentTakes(_ context.Context, game string, limit int) ([]model.Take, error) {
	f.game, f.limit = game, limit
	return f.takes, f.err
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestServer(takes TakeLister) (*Server, *fakeSource, *fakeSaves) {
	src := &fakeSource{st: engine.Status{Game: "SDVX", State: model.StatePlaying, Recording: true, Connected: true}}
	saves := &fakeSaves{}
	return NewServer(src, saves, takes, quietLogger()), src, saves
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleStatus(t *testing.T) {
	s, _, _ := newTestServer(nil)
	rec := do(t, s.NewHTTPHandler(""), http.MethodGet, "/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got engine.Status
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Game != "SDVX" || got.State != model.StatePlaying || !got.Recording {
		t.Errorf("status = %+v", got)
	}
}

func TestHandleSave(t *testing.T) {
	for _, tc := range []struct {
		name       string
		body       string
		full       bool
		wantCode   int
		wantSource string
	}{
		{"empty body", "", false, http.StatusAccepted, "http"},
		{"named source", `{"source":"streamdeck"}`, false, http.StatusAccepted, "http:streamdeck"},
		{"bad json", `{`, false, http.StatusBadRequest, ""},
		{"queue full", "", true, http.StatusServiceUnavailable, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, _, saves := newTestServer(nil)
			saves.full = tc.full
			rec := do(t, s.NewHTTPHandler(""), http.MethodPost, "/v1/save", tc.body)
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.wantCode, rec.Body)
			}
			if tc.wantSource == "" {
				if len(saves.requests) != 0 {
					t.Errorf("queued %v", saves.requests)
				}
				return
			}
			if len(saves.requests) != 1 || saves.requests[0].Source != tc.wantSource {
				t.Errorf("requests = %+v", saves.requests)
			}
		})
	}
}

func TestHandleListTakes(t *testing.T) {
	takes := &fakeTakes{takes: []model.Take{{ID: "tk-1", GameID: "SDVX", Outcome: model.OutcomeSaved}}}
	s, _, _ := newTestServer(takes)
	h := s.NewHTTPHandler("")

	rec := do(t, h, http.MethodGet, "/v1/takes?game=SDVX&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Takes []model.Take `json:"takes"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Takes) != 1 || body.Takes[0].ID != "tk-1" {
		t.Errorf("takes = %+v", body.Takes)
	}
	if takes.game != "SDVX" || takes.limit != 5 {
		t.Errorf("lister called with %q, %d", takes.game, takes.limit)
	}

	if rec := do(t, h, http.MethodGet, "/v1/takes?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}

	takes.err = errors.New("db down")
	if rec := do(t, h, http.MethodGet, "/v1/takes", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("lister error status = %d", rec.Code)
	}
}

func TestHandleListTakes_Disabled(t *testing.T) {
	s, _, _ := newTestServer(nil)
	if rec := do(t, s.NewHTTPHandler(""), http.MethodGet, "/v1/takes", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	s, _, _ := newTestServer(nil)
	h := s.NewHTTPHandler("secret")

	for _, tc := range []struct {
		name   string
		path   string
		header []string
		want   int
	}{
		{"health exempt", "/v1/health", nil, http.StatusOK},
		{"missing header", "/v1/status", nil, http.StatusUnauthorized},
		{"wrong scheme", "/v1/status", []string{"Authorization", "Basic secret"}, http.StatusUnauthorized},
		{"wrong token", "/v1/status", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"valid", "/v1/status", []string{"Authorization", "Bearer secret"}, http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodGet, tc.path, "", tc.header...); rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	interceptor := RecoveryInterceptor(quietLogger())
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(context.Context, any) (any, error) { panic("boom") })
	if grpcstatus.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestGRPCHealth(t *testing.T) {
	s, src, _ := newTestServer(nil)
	src.setConnected(false)

	lis := bufconn.Listen(1 << 16)
	srv := s.NewGRPCServer()
	go srv.Serve(lis)
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("before connect = %s", got)
	}

	src.setConnected(true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.WatchHealth(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for check() != healthpb.HealthCheckResponse_SERVING {
		if time.Now().After(deadline) {
			t.Fatal("health never reported SERVING")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
