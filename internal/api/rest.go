// Package api exposes the orchestrator workflows over HTTP/JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tgxzd/agrox/internal/gateway"
	"github.com/tgxzd/agrox/internal/models"
	"github.com/tgxzd/agrox/internal/orchestrator"
	"github.com/tgxzd/agrox/internal/pda"
)

type Handler struct {
	orch *orchestrator.Orchestrator
	log  *zap.Logger
}

func NewHTTPHandler(orch *orchestrator.Orchestrator, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{orch: orch, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", h.handlePing)
	mux.HandleFunc("/initialize", h.handleInitialize)
	mux.HandleFunc("/machines/register", h.handleRegister)
	mux.HandleFunc("/machines/start", h.handleStart)
	mux.HandleFunc("/machines/stop", h.handleStop)
	mux.HandleFunc("/machines/claim", h.handleClaim)
	mux.HandleFunc("/machines/get", h.handleGetMachine)
	mux.HandleFunc("/machines", h.handleMachines)
	mux.HandleFunc("/plants/create", h.handleCreatePlant)
	mux.HandleFunc("/plants", h.handlePlants)
	mux.HandleFunc("/data/upload", h.handleUpload)
	mux.HandleFunc("/data/use", h.handleUseData)
	mux.HandleFunc("/data", h.handleData)
	mux.HandleFunc("/cluster", h.handleCluster)
	mux.HandleFunc("/delegate", h.handleDelegate)
	mux.HandleFunc("/undelegate", h.handleUndelegate)
	mux.HandleFunc("/undelegate/process", h.handleProcessUndelegation)
	mux.HandleFunc("/refresh", h.handleRefresh)
	return mux
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"msg": "pong from agrod"})
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Authority string `json:"authority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	authority, err := pda.Parse(req.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid authority address")
		return
	}
	res, err := h.orch.Initialize(r.Context(), authority)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signer    string `json:"signer"`
		MachineID string `json:"machine_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.MachineID == "" {
		writeError(w, http.StatusBadRequest, "machine_id required")
		return
	}
	signer, err := pda.Parse(req.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signer address")
		return
	}
	res, err := h.orch.RegisterMachine(r.Context(), signer, req.MachineID)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type machineAction struct {
	Signer  string `json:"signer"`
	Machine string `json:"machine"`
}

func (a machineAction) parse() (signer, machine pda.Address, err error) {
	signer, err = pda.Parse(a.Signer)
	if err != nil {
		return
	}
	machine, err = pda.Parse(a.Machine)
	return
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	h.machineActionEndpoint(w, r, h.orch.StartMachine)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	h.machineActionEndpoint(w, r, h.orch.StopMachine)
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	h.machineActionEndpoint(w, r, h.orch.ClaimRewards)
}

func (h *Handler) machineActionEndpoint(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, signer, machine pda.Address) (*orchestrator.Result, error)) {

	var req machineAction
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	signer, machine, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	res, err := action(r.Context(), signer, machine)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCreatePlant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signer    string `json:"signer"`
		Machine   string `json:"machine"`
		PlantName string `json:"plant_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.PlantName == "" {
		writeError(w, http.StatusBadRequest, "plant_name required")
		return
	}
	signer, err := pda.Parse(req.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signer address")
		return
	}
	machine, err := pda.Parse(req.Machine)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid machine address")
		return
	}
	res, err := h.orch.CreatePlant(r.Context(), signer, machine, req.PlantName)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signer      string  `json:"signer"`
		Machine     string  `json:"machine"`
		Plant       string  `json:"plant"`
		Temperature float64 `json:"temperature"`
		Humidity    float64 `json:"humidity"`
		ImageURL    string  `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	signer, err := pda.Parse(req.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signer address")
		return
	}
	machine, err := pda.Parse(req.Machine)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid machine address")
		return
	}
	plant, err := pda.Parse(req.Plant)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid plant address")
		return
	}
	res, err := h.orch.UploadData(r.Context(), signer, machine, plant, req.Temperature, req.Humidity, req.ImageURL)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleUseData(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signer  string `json:"signer"`
		Machine string `json:"machine"`
		Data    string `json:"data"`
		Index   uint64 `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	signer, err := pda.Parse(req.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signer address")
		return
	}
	machine, err := pda.Parse(req.Machine)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid machine address")
		return
	}
	data, err := pda.Parse(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid data address")
		return
	}
	res, err := h.orch.UseData(r.Context(), signer, machine, data, req.Index)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}
	m, ok := h.orch.Repo().Snapshot().MachineByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "machine not found")
		return
	}
	writeJSON(w, http.StatusOK, machineView(m))
}

func (h *Handler) handleMachines(w http.ResponseWriter, r *http.Request) {
	snap := h.orch.Repo().Snapshot()
	var out []map[string]any

	if ownerStr := r.URL.Query().Get("owner"); ownerStr != "" {
		owner, err := pda.Parse(ownerStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid owner address")
			return
		}
		for _, m := range snap.MachinesOwnedBy(owner) {
			out = append(out, machineView(m))
		}
	} else {
		for _, m := range snap.Machines {
			out = append(out, machineView(m))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handlePlants(w http.ResponseWriter, r *http.Request) {
	snap := h.orch.Repo().Snapshot()
	var out []map[string]any

	if machineStr := r.URL.Query().Get("machine"); machineStr != "" {
		machine, err := pda.Parse(machineStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid machine address")
			return
		}
		for _, p := range snap.PlantsByMachine(machine) {
			out = append(out, plantView(p))
		}
	} else {
		for _, p := range snap.Plants {
			out = append(out, plantView(p))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleData(w http.ResponseWriter, r *http.Request) {
	snap := h.orch.Repo().Snapshot()
	machineStr := r.URL.Query().Get("machine")
	if machineStr == "" {
		writeError(w, http.StatusBadRequest, "machine required")
		return
	}
	machine, err := pda.Parse(machineStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid machine address")
		return
	}
	var out []*models.IoTData
	if plantStr := r.URL.Query().Get("plant"); plantStr != "" {
		plant, err := pda.Parse(plantStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid plant address")
			return
		}
		if d, ok := snap.DataFor(machine, plant); ok {
			out = append(out, d)
		}
	} else {
		out = snap.DataByMachine(machine)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCluster(w http.ResponseWriter, r *http.Request) {
	snap := h.orch.Repo().Snapshot()
	if snap.Cluster == nil {
		writeError(w, http.StatusNotFound, "cluster not initialized")
		return
	}
	writeJSON(w, http.StatusOK, clusterView(snap.Cluster))
}

func (h *Handler) handleDelegate(w http.ResponseWriter, r *http.Request) {
	h.delegationEndpoint(w, r, h.orch.Delegate)
}

func (h *Handler) handleUndelegate(w http.ResponseWriter, r *http.Request) {
	h.delegationEndpoint(w, r, h.orch.Undelegate)
}

func (h *Handler) handleProcessUndelegation(w http.ResponseWriter, r *http.Request) {
	h.delegationEndpoint(w, r, h.orch.ProcessUndelegation)
}

func (h *Handler) delegationEndpoint(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, signer, target pda.Address) (*orchestrator.Result, error)) {

	var req struct {
		Signer string `json:"signer"`
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	signer, err := pda.Parse(req.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signer address")
		return
	}
	target, err := pda.Parse(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target address")
		return
	}
	res, err := action(r.Context(), signer, target)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Repo().RefreshAll(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "refresh failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": h.orch.Repo().Snapshot().Generation,
	})
}

// writeWorkflowError maps the error taxonomy to HTTP statuses, keeping
// each failure distinguishable for the caller.
func (h *Handler) writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrMachineIDExists),
		errors.Is(err, orchestrator.ErrPlantNameExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, orchestrator.ErrMachineNotActive),
		errors.Is(err, orchestrator.ErrNoRewards),
		errors.Is(err, orchestrator.ErrInvalidDataEntryIndex),
		errors.Is(err, orchestrator.ErrPlantNotLinked),
		errors.Is(err, orchestrator.ErrNotDelegated):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, gateway.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, gateway.ErrNotConnected):
		writeError(w, http.StatusUnauthorized, err.Error())
	case gateway.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error("workflow failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Counters are rendered as strings: ledger values can exceed what a JSON
// consumer can hold in a double.
func counter(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func machineView(m *models.Machine) map[string]any {
	return map[string]any{
		"address":              m.Address.String(),
		"owner":                m.Owner.String(),
		"machine_id":           m.MachineID,
		"is_active":            m.IsActive,
		"data_count":           counter(m.DataCount),
		"image_count":          counter(m.ImageCount),
		"rewards_earned":       counter(m.RewardsEarned),
		"data_used_count":      counter(m.DataUsedCount),
		"last_data_timestamp":  m.LastDataTimestamp,
		"last_image_timestamp": m.LastImageTimestamp,
		"plant_count":          counter(m.PlantCount),
		"plants":               m.Plants,
	}
}

func plantView(p *models.Plant) map[string]any {
	return map[string]any{
		"address":               p.Address.String(),
		"creator":               p.Creator.String(),
		"plant_name":            p.PlantName,
		"data_count":            counter(p.DataCount),
		"image_count":           counter(p.ImageCount),
		"creation_timestamp":    p.CreationTimestamp,
		"last_update_timestamp": p.LastUpdateTimestamp,
		"machine":               p.Machine.String(),
	}
}

func clusterView(c *models.Cluster) map[string]any {
	return map[string]any{
		"address":            c.Address.String(),
		"authority":          c.Authority.String(),
		"machine_count":      counter(c.MachineCount),
		"plant_count":        counter(c.PlantCount),
		"total_data_uploads": counter(c.TotalDataUploads),
		"data_request_count": counter(c.DataRequestCount),
		"machines":           c.Machines,
		"plants":             c.Plants,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
