package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tgxzd/agrox/internal/codec"
	"github.com/tgxzd/agrox/internal/device"
	"github.com/tgxzd/agrox/internal/ledger"
	"github.com/tgxzd/agrox/internal/orchestrator"
	"github.com/tgxzd/agrox/internal/pda"
	"github.com/tgxzd/agrox/internal/repo"
	"github.com/tgxzd/agrox/internal/schema"
)

func testHandler(t *testing.T) (http.Handler, pda.Address) {
	t.Helper()
	sch := schema.Default()
	led, err := ledger.Open(ledger.Options{InMemory: true, Schema: sch})
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	devSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cameraActive":true,"sensorActive":true}`))
	}))
	t.Cleanup(devSrv.Close)

	cod := codec.New(sch)
	rp := repo.New(led, cod, led.Program(), nil)
	ctl := device.NewController(devSrv.URL, time.Second, nil)
	orch, err := orchestrator.New(led, rp, cod, sch, ctl, nil,
		orchestrator.Config{SettleDelay: time.Hour, DataInterval: time.Hour, ImageInterval: time.Hour}, nil)
	require.NoError(t, err)
	t.Cleanup(orch.Shutdown)

	return NewHTTPHandler(orch, nil), pda.Address{0xAA}
}

func post(t *testing.T, h http.Handler, path string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	bs, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(bs))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterOverHTTP(t *testing.T) {
	h, user := testHandler(t)
	signer := user.String()

	rec := post(t, h, "/initialize", map[string]any{"authority": signer})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = post(t, h, "/machines/register", map[string]any{
		"signer": signer, "machine_id": "AgroX-0",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		TxID    string `json:"tx_id"`
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotEmpty(t, res.TxID)
	require.NotEmpty(t, res.Address)

	// Duplicate id maps to 409.
	rec = post(t, h, "/machines/register", map[string]any{
		"signer": signer, "machine_id": "AgroX-0",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = get(t, h, "/machines/get?id=AgroX-0")
	require.Equal(t, http.StatusOK, rec.Code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "AgroX-0", view["machine_id"])
	// Counters come back as strings, not numbers.
	require.Equal(t, "0", view["data_count"])

	rec = get(t, h, "/machines/get?id=nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidationOverHTTP(t *testing.T) {
	h, user := testHandler(t)
	signer := user.String()

	rec := post(t, h, "/machines/register", map[string]any{"signer": signer})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, h, "/machines/register", map[string]any{
		"signer": "not-an-address", "machine_id": "AgroX-0",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Cluster not initialized yet.
	rec = get(t, h, "/cluster")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkflowErrorMapping(t *testing.T) {
	h, user := testHandler(t)
	signer := user.String()

	post(t, h, "/initialize", map[string]any{"authority": signer})
	rec := post(t, h, "/machines/register", map[string]any{
		"signer": signer, "machine_id": "AgroX-0",
	})
	var res struct {
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	// Someone else stopping the machine is 403.
	other := pda.Address{0xBB}
	rec = post(t, h, "/machines/stop", map[string]any{
		"signer": other.String(), "machine": res.Address,
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Claiming with nothing accrued is 422.
	rec = post(t, h, "/machines/claim", map[string]any{
		"signer": signer, "machine": res.Address,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
