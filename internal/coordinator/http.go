package coordinator

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trafficfabric/internal/apperrors"
	"trafficfabric/internal/model"
	"trafficfabric/internal/store"
)

// Router builds the coordinator's HTTP surface (§6): the seven request/
// response endpoints, plus the debug event stream. Prometheus metrics are
// served on their own listener (see MetricsHandler and Config.MetricsAddr),
// not on this router.
func (c *Coordinator) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/node/", c.handleAddNode).Methods(http.MethodPost)
	r.HandleFunc("/edge/", c.handleAddEdge).Methods(http.MethodPost)
	r.HandleFunc("/edge/update/{edge_id}/{node_id}/", c.handleUpdateTraffic).Methods(http.MethodPost)
	r.HandleFunc("/green/{node_id}/", c.handleCalculateGreen).Methods(http.MethodPost)
	r.HandleFunc("/gettable/node/{node_id}/", c.handleGetTable).Methods(http.MethodGet)
	r.HandleFunc("/routing/dv-update/", c.handleDVUpdate).Methods(http.MethodPost)
	r.HandleFunc("/add_routing_entry/", c.handleAddRoutingEntry).Methods(http.MethodPost)

	r.HandleFunc("/debug/events", c.Events.ServeHTTP)

	return r
}

// MetricsHandler returns the Prometheus /metrics handler for c's registry,
// meant to be served on the separate listener named by Config.MetricsAddr.
func (c *Coordinator) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.Metrics.Registry, promhttp.HandlerOpts{})
}

func (c *Coordinator) writeJSON(w http.ResponseWriter, route string, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	c.Metrics.observeHTTP(route, statusClass(status))
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.Logger.Error("encode response", "route", route, "err", err)
	}
}

func statusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// writeError maps an apperrors.Error kind to the response status §7 implies;
// errors of an unrecognized shape are treated as internal/store failures.
func (c *Coordinator) writeError(w http.ResponseWriter, route string, err error) {
	kind, ok := apperrors.KindOf(err)
	if !ok {
		c.writeJSON(w, route, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case apperrors.KindBadRequest:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindNotConnected:
		status = http.StatusBadRequest
	case apperrors.KindNoRoute:
		status = http.StatusNotFound
	case apperrors.KindDetectorFailure:
		status = http.StatusBadRequest
	case apperrors.KindConflict:
		status = http.StatusConflict
	case apperrors.KindStoreFailure:
		status = http.StatusInternalServerError
	}
	c.writeJSON(w, route, status, map[string]string{"error": err.Error(), "kind": kind.String()})
}

type addNodeRequest struct {
	NodeID   string        `json:"node_id"`
	Name     string        `json:"name"`
	Location *model.LatLng `json:"location,omitempty"`
	IsActive *bool         `json:"is_active,omitempty"`
}

func (c *Coordinator) handleAddNode(w http.ResponseWriter, r *http.Request) {
	const route = "add_node"
	var req addNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, route, apperrors.Wrap(apperrors.KindBadRequest, "malformed body", err))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	n, err := c.AddNode(r.Context(), model.Node{
		NodeID: req.NodeID, Name: req.Name, Location: req.Location, Active: active,
	})
	if err != nil {
		c.writeError(w, route, err)
		return
	}
	c.writeJSON(w, route, http.StatusOK, map[string]string{"node_id": n.NodeID, "name": n.Name})
}

type addEdgeRequest struct {
	EdgeID      string  `json:"edge_id"`
	Name        string  `json:"name"`
	InNodeID    string  `json:"in_node_id"`
	OutNodeID   string  `json:"out_node_id"`
	CameraID    string  `json:"camera_id"`
	RoadLengthM float64 `json:"road_length_m"`
	RoadWidthM  float64 `json:"road_width_m"`
	Active      *bool   `json:"active,omitempty"`
}

func (c *Coordinator) handleAddEdge(w http.ResponseWriter, r *http.Request) {
	const route = "add_edge"
	var req addEdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, route, apperrors.Wrap(apperrors.KindBadRequest, "malformed body", err))
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	e, err := c.AddEdge(r.Context(), model.Edge{
		EdgeID: req.EdgeID, Name: req.Name, InNodeID: req.InNodeID, OutNodeID: req.OutNodeID,
		CameraID: req.CameraID, RoadLengthM: req.RoadLengthM, RoadWidthM: req.RoadWidthM, Active: active,
	})
	if err != nil {
		c.writeError(w, route, err)
		return
	}
	c.writeJSON(w, route, http.StatusOK, map[string]string{"edge_id": e.EdgeID, "in": e.InNodeID, "out": e.OutNodeID})
}

type updateTrafficRequest struct {
	Updates struct {
		TotalVehicles *int     `json:"total_vehicles,omitempty"`
		QueueLengthM  *float64 `json:"queue_length_m,omitempty"`
		Density       *float64 `json:"density,omitempty"`
		Pressure      *float64 `json:"pressure,omitempty"`
		LastGreenTS   *int64   `json:"last_green_ts,omitempty"`
	} `json:"updates"`
}

func (c *Coordinator) handleUpdateTraffic(w http.ResponseWriter, r *http.Request) {
	const route = "update_traffic"
	vars := mux.Vars(r)
	edgeID, nodeID := vars["edge_id"], vars["node_id"]

	var req updateTrafficRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, route, apperrors.Wrap(apperrors.KindBadRequest, "malformed body", err))
		return
	}

	patch := store.MetricsPatch{
		TotalVehicles: req.Updates.TotalVehicles,
		QueueLengthM:  req.Updates.QueueLengthM,
		Density:       req.Updates.Density,
		Pressure:      req.Updates.Pressure,
		LastGreenTS:   req.Updates.LastGreenTS,
	}
	if _, err := c.UpdateTraffic(r.Context(), nodeID, edgeID, patch); err != nil {
		c.writeError(w, route, err)
		return
	}
	c.writeJSON(w, route, http.StatusOK, map[string]string{"edge_id": edgeID, "updated_for_node": nodeID})
}

func (c *Coordinator) handleCalculateGreen(w http.ResponseWriter, r *http.Request) {
	const route = "calculate_green"
	nodeID := mux.Vars(r)["node_id"]

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		c.writeError(w, route, apperrors.Wrap(apperrors.KindBadRequest, "malformed multipart form", err))
		return
	}

	var uploads []ImageUpload
	for edgeID, headers := range r.MultipartForm.File {
		for _, h := range headers {
			f, err := h.Open()
			if err != nil {
				c.writeError(w, route, apperrors.Wrap(apperrors.KindBadRequest, "open upload part "+edgeID, err))
				return
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				c.writeError(w, route, apperrors.Wrap(apperrors.KindBadRequest, "read upload part "+edgeID, err))
				return
			}
			uploads = append(uploads, ImageUpload{EdgeID: edgeID, Image: data})
		}
	}

	result, err := c.CalculateGreen(r.Context(), nodeID, uploads)
	if err != nil {
		c.writeError(w, route, err)
		return
	}
	c.writeJSON(w, route, http.StatusOK, result)
}

func (c *Coordinator) handleGetTable(w http.ResponseWriter, r *http.Request) {
	const route = "get_table"
	nodeID := mux.Vars(r)["node_id"]

	result, err := c.GetTable(r.Context(), nodeID)
	if err != nil {
		c.writeError(w, route, err)
		return
	}
	c.writeJSON(w, route, http.StatusOK, result)
}

func (c *Coordinator) handleDVUpdate(w http.ResponseWriter, r *http.Request) {
	const route = "dv_update_tick"
	applied, err := c.DVUpdateTick(r.Context())
	if err != nil {
		c.writeError(w, route, err)
		return
	}
	c.writeJSON(w, route, http.StatusOK, map[string]int{"updates_applied": applied})
}

type addRoutingEntryRequest struct {
	FromNode string  `json:"from_node"`
	Dest     string  `json:"dest"`
	NextHop  string  `json:"next_hop"`
	Cost     float64 `json:"cost"`
}

func (c *Coordinator) handleAddRoutingEntry(w http.ResponseWriter, r *http.Request) {
	const route = "add_routing_entry"
	var req addRoutingEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, route, apperrors.Wrap(apperrors.KindBadRequest, "malformed body", err))
		return
	}

	entry, err := c.AddRoutingEntry(r.Context(), model.RoutingEntry{
		FromNodeID: req.FromNode, DestinationNodeID: req.Dest, NextHopNodeID: req.NextHop, Cost: req.Cost,
	})
	if err != nil {
		c.writeError(w, route, err)
		return
	}
	c.writeJSON(w, route, http.StatusOK, entry)
}
