package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/plugscan/internal/catalog"
	"github.com/ipsix/plugscan/internal/config"
	"github.com/ipsix/plugscan/internal/discovery"
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/plugin"
	"github.com/ipsix/plugscan/internal/state"
	"github.com/ipsix/plugscan/internal/storage"
)

type fakeScans struct {
	mu        sync.Mutex
	state     discovery.State
	snap      *catalog.Snapshot
	begun     int
	cancelled int
	beginErr  error
}

func (f *fakeScans) BeginScan(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return f.beginErr
	}
	f.begun++
	f.state = discovery.StateScanning
	return nil
}

func (f *fakeScans) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

func (f *fakeScans) State() discovery.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeScans) Snapshot() *catalog.Snapshot { return f.snap }
func (f *fakeScans) CurrentlyScanning() string   { return "" }
func (f *fakeScans) LastSummary() (discovery.Summary, bool) {
	return discovery.Summary{ID: "last", State: discovery.StateCompleted, Total: f.snap.Len()}, true
}

func newFakeScans(t *testing.T) *fakeScans {
	t.Helper()
	cat := catalog.New()
	for _, d := range []plugin.Descriptor{
		{Name: "Dexed", Protocol: plugin.ProtocolLV2, URI: "https://asb2m10.github.io/dexed", Category: plugin.CategoryInstrument, MidiIns: 1, AudioOuts: 2},
		{Name: "Dragonfly Hall", Protocol: plugin.ProtocolLV2, URI: "urn:dragonfly:hall", Category: plugin.CategoryReverb, AudioIns: 2, AudioOuts: 2},
		{Name: "Surge XT", Protocol: plugin.ProtocolCLAP, Path: "/clap/Surge XT.clap", Category: plugin.CategoryInstrument, MidiIns: 1, AudioOuts: 2},
	} {
		_, err := cat.Insert(d)
		require.NoError(t, err)
	}
	return &fakeScans{state: discovery.StateCompleted, snap: cat.Snapshot()}
}

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAPIAuth(t *testing.T) {
	cfg := config.APIConfig{Enabled: true, BindAddr: "127.0.0.1:0", AuthToken: "secret"}
	handler := New(cfg, logging.Nop(), newFakeScans(t), nil, nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPluginsFilters(t *testing.T) {
	cfg := config.APIConfig{AuthToken: "secret"}
	handler := New(cfg, logging.Nop(), newFakeScans(t), nil, nil).Handler()

	decode := func(rr *httptest.ResponseRecorder) []plugin.Descriptor {
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var out []plugin.Descriptor
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
		return out
	}

	assert.Len(t, decode(serve(t, handler, http.MethodGet, "/plugins")), 3)
	assert.Len(t, decode(serve(t, handler, http.MethodGet, "/plugins?protocol=lv2")), 2)
	instruments := decode(serve(t, handler, http.MethodGet, "/plugins?instruments=true"))
	assert.Len(t, instruments, 2)
	reverbs := decode(serve(t, handler, http.MethodGet, "/plugins?category=Reverb"))
	require.Len(t, reverbs, 1)
	assert.Equal(t, "Dragonfly Hall", reverbs[0].Name)

	assert.Equal(t, http.StatusBadRequest, serve(t, handler, http.MethodGet, "/plugins?protocol=aax").Code)
}

func TestFindPlugin(t *testing.T) {
	handler := New(config.APIConfig{AuthToken: "secret"}, logging.Nop(), newFakeScans(t), nil, nil).Handler()

	rr := serve(t, handler, http.MethodGet, "/plugins/find?uri=urn:dragonfly:hall")
	require.Equal(t, http.StatusOK, rr.Code)
	var d plugin.Descriptor
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	assert.Equal(t, "Dragonfly Hall", d.Name)

	assert.Equal(t, http.StatusNotFound, serve(t, handler, http.MethodGet, "/plugins/find?uri=urn:none").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, handler, http.MethodGet, "/plugins/find").Code)
}

func TestScanControl(t *testing.T) {
	scans := newFakeScans(t)
	handler := New(config.APIConfig{AuthToken: "secret"}, logging.Nop(), scans, nil, nil).Handler()

	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, handler, http.MethodGet, "/scan").Code)
	assert.Equal(t, http.StatusAccepted, serve(t, handler, http.MethodPost, "/scan").Code)
	assert.Equal(t, 1, scans.begun)

	scans.beginErr = discovery.ErrScanInProgress
	assert.Equal(t, http.StatusConflict, serve(t, handler, http.MethodPost, "/scan").Code)

	assert.Equal(t, http.StatusAccepted, serve(t, handler, http.MethodPost, "/scan/cancel").Code)
	assert.Equal(t, 1, scans.cancelled)
}

func TestReadOnlyRefusesScan(t *testing.T) {
	scans := newFakeScans(t)
	handler := New(config.APIConfig{AuthToken: "secret", ReadOnly: true}, logging.Nop(), scans, nil, nil).Handler()

	assert.Equal(t, http.StatusForbidden, serve(t, handler, http.MethodPost, "/scan").Code)
	assert.Equal(t, 0, scans.begun)
}

func TestStatusAndHistory(t *testing.T) {
	tracker := state.NewTracker(10)
	tracker.ScanningFinished(discovery.Summary{ID: "one", State: discovery.StateCompleted})
	tracker.ScanningFinished(discovery.Summary{ID: "two", State: discovery.StateCancelled})
	handler := New(config.APIConfig{AuthToken: "secret"}, logging.Nop(), newFakeScans(t), tracker, nil).Handler()

	rr := serve(t, handler, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rr.Code)
	var status struct {
		State   string `json:"state"`
		Plugins int    `json:"plugins"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "completed", status.State)
	assert.Equal(t, 3, status.Plugins)

	rr = serve(t, handler, http.MethodGet, "/history?limit=1")
	require.Equal(t, http.StatusOK, rr.Code)
	var records []storage.ScanRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "two", records[0].ID)
	assert.Equal(t, "cancelled", records[0].State)
}

func TestHistoryFromStore(t *testing.T) {
	store, err := storage.NewInMemoryBadgerStore()
	require.NoError(t, err)
	defer store.Close()
	history := storage.NewHistoryStore(store)
	require.NoError(t, history.Save(storage.ScanRecord{ID: "persisted", State: "completed"}))

	handler := New(config.APIConfig{AuthToken: "secret"}, logging.Nop(), newFakeScans(t), nil, history).Handler()
	rr := serve(t, handler, http.MethodGet, "/history")
	require.Equal(t, http.StatusOK, rr.Code)
	var records []storage.ScanRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "persisted", records[0].ID)
}

func TestCategories(t *testing.T) {
	handler := New(config.APIConfig{AuthToken: "secret"}, logging.Nop(), newFakeScans(t), nil, nil).Handler()
	rr := serve(t, handler, http.MethodGet, "/plugins/categories")
	require.Equal(t, http.StatusOK, rr.Code)
	var cats []string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cats))
	assert.Contains(t, cats, "Reverb")
}
