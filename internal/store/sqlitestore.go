package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"trafficfabric/internal/apperrors"
	"trafficfabric/internal/model"
)

// SQLiteStore is the durable Store implementation backing cmd/coordinator.
// Each of the three persisted collections (nodes, edges, routing_table) is
// one table; TrafficMetrics is stored as a JSON blob per direction since
// its fields are fixed but the column-per-field mapping buys nothing a
// document store wouldn't already give for free.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) the sqlite database at path
// and ensures its schema exists. path may be ":memory:" for ephemeral use
// in tests.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreFailure, "open sqlite store", err)
	}
	// The coordinator's request-per-goroutine model drives plenty of
	// concurrent readers but SQLite serializes writers regardless; cap the
	// pool so we fail fast on contention rather than pile up connections.
	db.SetMaxOpenConns(8)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	node_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	location TEXT,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS nodes_is_active_idx ON nodes(is_active);

CREATE TABLE IF NOT EXISTS edges (
	edge_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	in_node_id TEXT NOT NULL,
	out_node_id TEXT NOT NULL,
	camera_id TEXT NOT NULL,
	road_length_m REAL NOT NULL,
	road_width_m REAL NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	incoming_traffic TEXT NOT NULL,
	outgoing_traffic TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS edges_out_node_idx ON edges(out_node_id);
CREATE INDEX IF NOT EXISTS edges_in_node_idx ON edges(in_node_id);

CREATE TABLE IF NOT EXISTS routing_table (
	from_node_id TEXT NOT NULL,
	destination_node_id TEXT NOT NULL,
	next_hop_node_id TEXT NOT NULL,
	cost REAL NOT NULL,
	last_updated INTEGER NOT NULL,
	PRIMARY KEY (from_node_id, destination_node_id, next_hop_node_id)
);
CREATE INDEX IF NOT EXISTS routing_from_idx ON routing_table(from_node_id);
CREATE INDEX IF NOT EXISTS routing_dest_idx ON routing_table(destination_node_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return apperrors.Wrap(apperrors.KindStoreFailure, "migrate sqlite schema", err)
	}
	return nil
}

func marshalMetrics(m model.TrafficMetrics) (string, error) {
	b, err := json.Marshal(m)
	return string(b), err
}

func unmarshalMetrics(s string) (model.TrafficMetrics, error) {
	var m model.TrafficMetrics
	err := json.Unmarshal([]byte(s), &m)
	return m, err
}

func marshalLocation(l *model.LatLng) (*string, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func (s *SQLiteStore) CreateNode(ctx context.Context, n model.Node) (model.Node, error) {
	loc, err := marshalLocation(n.Location)
	if err != nil {
		return model.Node{}, apperrors.Wrap(apperrors.KindBadRequest, "encode location", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes (node_id, name, location, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		n.NodeID, n.Name, loc, boolToInt(n.Active), n.CreatedAt.Unix(), n.UpdatedAt.Unix(),
	)
	if isUniqueViolation(err) {
		return model.Node{}, apperrors.New(apperrors.KindConflict, "node_id already exists: "+n.NodeID)
	}
	if err != nil {
		return model.Node{}, apperrors.Wrap(apperrors.KindStoreFailure, "insert node", err)
	}
	return n, nil
}

func (s *SQLiteStore) GetNode(ctx context.Context, nodeID string) (model.Node, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT node_id, name, location, is_active, created_at, updated_at FROM nodes WHERE node_id = ?`, nodeID)
	return scanNode(row)
}

func scanNode(row *sql.Row) (model.Node, error) {
	var n model.Node
	var loc sql.NullString
	var active int
	var created, updated int64
	if err := row.Scan(&n.NodeID, &n.Name, &loc, &active, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return model.Node{}, apperrors.New(apperrors.KindNotFound, "node not found")
		}
		return model.Node{}, apperrors.Wrap(apperrors.KindStoreFailure, "scan node", err)
	}
	n.Active = active != 0
	n.CreatedAt = time.Unix(created, 0).UTC()
	n.UpdatedAt = time.Unix(updated, 0).UTC()
	if loc.Valid {
		var ll model.LatLng
		if err := json.Unmarshal([]byte(loc.String), &ll); err == nil {
			n.Location = &ll
		}
	}
	return n, nil
}

func (s *SQLiteStore) CreateEdge(ctx context.Context, e model.Edge) (model.Edge, error) {
	if _, err := s.GetNode(ctx, e.InNodeID); err != nil {
		return model.Edge{}, apperrors.New(apperrors.KindBadRequest, "in_node_id does not exist: "+e.InNodeID)
	}
	if _, err := s.GetNode(ctx, e.OutNodeID); err != nil {
		return model.Edge{}, apperrors.New(apperrors.KindBadRequest, "out_node_id does not exist: "+e.OutNodeID)
	}
	if e.InNodeID == e.OutNodeID {
		return model.Edge{}, apperrors.New(apperrors.KindBadRequest, "in_node_id must differ from out_node_id")
	}

	in, err := marshalMetrics(e.IncomingTraffic)
	if err != nil {
		return model.Edge{}, apperrors.Wrap(apperrors.KindBadRequest, "encode incoming_traffic", err)
	}
	out, err := marshalMetrics(e.OutgoingTraffic)
	if err != nil {
		return model.Edge{}, apperrors.Wrap(apperrors.KindBadRequest, "encode outgoing_traffic", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO edges (edge_id, name, in_node_id, out_node_id, camera_id, road_length_m, road_width_m, is_active, incoming_traffic, outgoing_traffic, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EdgeID, e.Name, e.InNodeID, e.OutNodeID, e.CameraID, e.RoadLengthM, e.RoadWidthM, boolToInt(e.Active), in, out, e.CreatedAt.Unix(),
	)
	if isUniqueViolation(err) {
		return model.Edge{}, apperrors.New(apperrors.KindConflict, "edge_id already exists: "+e.EdgeID)
	}
	if err != nil {
		return model.Edge{}, apperrors.Wrap(apperrors.KindStoreFailure, "insert edge", err)
	}
	return e, nil
}

const edgeColumns = `edge_id, name, in_node_id, out_node_id, camera_id, road_length_m, road_width_m, is_active, incoming_traffic, outgoing_traffic, created_at`

func scanEdge(row interface {
	Scan(dest ...any) error
}) (model.Edge, error) {
	var e model.Edge
	var active int
	var inJSON, outJSON string
	var created int64
	if err := row.Scan(&e.EdgeID, &e.Name, &e.InNodeID, &e.OutNodeID, &e.CameraID, &e.RoadLengthM, &e.RoadWidthM, &active, &inJSON, &outJSON, &created); err != nil {
		if err == sql.ErrNoRows {
			return model.Edge{}, apperrors.New(apperrors.KindNotFound, "edge not found")
		}
		return model.Edge{}, apperrors.Wrap(apperrors.KindStoreFailure, "scan edge", err)
	}
	e.Active = active != 0
	e.CreatedAt = time.Unix(created, 0).UTC()
	var err error
	if e.IncomingTraffic, err = unmarshalMetrics(inJSON); err != nil {
		return model.Edge{}, apperrors.Wrap(apperrors.KindStoreFailure, "decode incoming_traffic", err)
	}
	if e.OutgoingTraffic, err = unmarshalMetrics(outJSON); err != nil {
		return model.Edge{}, apperrors.Wrap(apperrors.KindStoreFailure, "decode outgoing_traffic", err)
	}
	return e, nil
}

func (s *SQLiteStore) GetEdge(ctx context.Context, edgeID string) (model.Edge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE edge_id = ?`, edgeID)
	return scanEdge(row)
}

func (s *SQLiteStore) FindEdgesByOutNode(ctx context.Context, nodeID string, activeOnly bool) ([]model.Edge, error) {
	query := `SELECT ` + edgeColumns + ` FROM edges WHERE out_node_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	rows, err := s.db.QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreFailure, "query edges by out node", err)
	}
	return scanEdgeRows(rows)
}

func (s *SQLiteStore) FindAllActiveEdges(ctx context.Context) ([]model.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE is_active = 1`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreFailure, "query active edges", err)
	}
	return scanEdgeRows(rows)
}

func scanEdgeRows(rows *sql.Rows) ([]model.Edge, error) {
	defer rows.Close()
	var out []model.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateEdgeMetrics(ctx context.Context, edgeID string, dir model.Direction, patch MetricsPatch, now time.Time) (model.Edge, error) {
	e, err := s.GetEdge(ctx, edgeID)
	if err != nil {
		return model.Edge{}, err
	}

	applyPatch(e.MetricsFor(dir), patch, now)

	in, err := marshalMetrics(e.IncomingTraffic)
	if err != nil {
		return model.Edge{}, apperrors.Wrap(apperrors.KindStoreFailure, "encode incoming_traffic", err)
	}
	out, err := marshalMetrics(e.OutgoingTraffic)
	if err != nil {
		return model.Edge{}, apperrors.Wrap(apperrors.KindStoreFailure, "encode outgoing_traffic", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE edges SET incoming_traffic = ?, outgoing_traffic = ? WHERE edge_id = ?`,
		in, out, edgeID,
	); err != nil {
		return model.Edge{}, apperrors.Wrap(apperrors.KindStoreFailure, "update edge metrics", err)
	}
	return e, nil
}

func (s *SQLiteStore) UpdateEdgeMetricsForNode(ctx context.Context, nodeID, edgeID string, patch MetricsPatch, now time.Time) (model.Edge, error) {
	e, err := s.GetEdge(ctx, edgeID)
	if err != nil {
		return model.Edge{}, err
	}
	dir, ok := e.DirectionFor(nodeID)
	if !ok {
		return model.Edge{}, apperrors.New(apperrors.KindNotConnected, "node "+nodeID+" is not connected to edge "+edgeID)
	}
	return s.UpdateEdgeMetrics(ctx, edgeID, dir, patch, now)
}

func (s *SQLiteStore) CreateRoutingEntry(ctx context.Context, e model.RoutingEntry) (model.RoutingEntry, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing_table (from_node_id, destination_node_id, next_hop_node_id, cost, last_updated) VALUES (?, ?, ?, ?, ?)`,
		e.FromNodeID, e.DestinationNodeID, e.NextHopNodeID, e.Cost, e.LastUpdated.Unix(),
	)
	if isUniqueViolation(err) {
		return model.RoutingEntry{}, apperrors.New(apperrors.KindConflict, "routing entry already exists")
	}
	if err != nil {
		return model.RoutingEntry{}, apperrors.Wrap(apperrors.KindStoreFailure, "insert routing entry", err)
	}
	return e, nil
}

func (s *SQLiteStore) FindRoutingEntries(ctx context.Context, fromNodeID, destinationNodeID, nextHopNodeID *string) ([]model.RoutingEntry, error) {
	query := `SELECT from_node_id, destination_node_id, next_hop_node_id, cost, last_updated FROM routing_table WHERE 1=1`
	var args []any
	if fromNodeID != nil {
		query += ` AND from_node_id = ?`
		args = append(args, *fromNodeID)
	}
	if destinationNodeID != nil {
		query += ` AND destination_node_id = ?`
		args = append(args, *destinationNodeID)
	}
	if nextHopNodeID != nil {
		query += ` AND next_hop_node_id = ?`
		args = append(args, *nextHopNodeID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreFailure, "query routing entries", err)
	}
	defer rows.Close()

	var out []model.RoutingEntry
	for rows.Next() {
		var e model.RoutingEntry
		var updated int64
		if err := rows.Scan(&e.FromNodeID, &e.DestinationNodeID, &e.NextHopNodeID, &e.Cost, &updated); err != nil {
			return nil, apperrors.Wrap(apperrors.KindStoreFailure, "scan routing entry", err)
		}
		e.LastUpdated = time.Unix(updated, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertRoutingEntry(ctx context.Context, key model.RoutingKey, cost float64, now time.Time) (bool, error) {
	// "created" must be known before the write: SQLite's driver reports 1
	// row affected for both the insert and update branch of an upsert.
	existed, err := s.routingEntryExists(ctx, key)
	if err != nil {
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO routing_table (from_node_id, destination_node_id, next_hop_node_id, cost, last_updated)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (from_node_id, destination_node_id, next_hop_node_id)
		 DO UPDATE SET cost = excluded.cost, last_updated = excluded.last_updated`,
		key.FromNodeID, key.DestinationNodeID, key.NextHopNodeID, cost, now.Unix(),
	)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindStoreFailure, "upsert routing entry", err)
	}
	return !existed, nil
}

func (s *SQLiteStore) routingEntryExists(ctx context.Context, key model.RoutingKey) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM routing_table WHERE from_node_id = ? AND destination_node_id = ? AND next_hop_node_id = ?`,
		key.FromNodeID, key.DestinationNodeID, key.NextHopNodeID,
	).Scan(&count)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindStoreFailure, "check routing entry existence", err)
	}
	return count > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation recognizes modernc.org/sqlite's constraint-violation
// error text; the driver does not expose a typed sentinel for it.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
