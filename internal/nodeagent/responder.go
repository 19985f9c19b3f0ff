package nodeagent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"

	"trafficfabric/internal/apperrors"
)

// nextEdgeRequest is the vehicle wire protocol's single request shape (§6
// Node-to-vehicle wire protocol).
type nextEdgeRequest struct {
	Type        string `json:"type"`
	CarID       string `json:"car_id"`
	Destination string `json:"destination"`
}

type nextEdgeResponse struct {
	NextEdge string `json:"next_edge,omitempty"`
	Error    string `json:"error,omitempty"`
}

// VehicleResponder accepts one TCP connection per query. Each connection
// carries exactly one newline-free JSON request/response exchange, then
// closes; responder never blocks on the phase scheduler (§4.7, §5).
type VehicleResponder struct {
	Cache  *TableCache
	Logger *slog.Logger
}

// Serve listens on addr until ctx is cancelled. Each accepted connection is
// handled in its own goroutine, so one slow or stalled vehicle never
// blocks another.
func (v *VehicleResponder) Serve(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStoreFailure, "vehicle responder listen", err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && !netErr.Timeout() {
				return apperrors.Wrap(apperrors.KindStoreFailure, "vehicle responder accept", err)
			}
			continue
		}
		go v.handle(conn)
	}
}

// handle treats connection loss as a silent drop, per §5 Cancellation.
func (v *VehicleResponder) handle(conn net.Conn) {
	defer conn.Close()

	var req nextEdgeRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		return
	}

	var resp nextEdgeResponse
	nextHop, err := v.Cache.Sample(req.Destination)
	if err != nil {
		resp = nextEdgeResponse{Error: "NO_ROUTE"}
	} else {
		resp = nextEdgeResponse{NextEdge: nextHop}
	}

	data, err := json.Marshal(resp)
	if err == nil {
		_, err = conn.Write(data)
	}
	if err != nil && v.Logger != nil {
		v.Logger.Warn("vehicle responder write failed", "car_id", req.CarID, "err", err)
	}
}
