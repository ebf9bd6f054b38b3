package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edgemesh/coordinator/domain"
)

// PostgresStore implements Store against a PostgreSQL instance via pgx. It is
// the backend used in production when COORDINATOR_DB_URL is set.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool, verifies connectivity, and
// applies Schema. Pool sizing mirrors the teacher's control_plane store
// defaults, scaled down: a coordinator fleet is expected to be dozens to
// low-hundreds of nodes, not the teacher's larger tenant pools.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (s *PostgresStore) loadNode(ctx context.Context, tx pgx.Tx, nodeID string) (*domain.Node, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT node_id, display_name, ip, port, status,
		       capabilities_json, metrics_json, policy_json,
		       last_seen, created_at, updated_at
		FROM nodes WHERE node_id = $1 FOR UPDATE`, nodeID)

	var (
		n                              domain.Node
		capsRaw, metricsRaw, policyRaw []byte
	)
	err := row.Scan(
		&n.Identity.NodeID, &n.Identity.DisplayName, &n.Identity.IP, &n.Identity.Port,
		&n.Status, &capsRaw, &metricsRaw, &policyRaw,
		&n.LastSeen, &n.CreatedAt, &n.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(capsRaw, &n.Capabilities); err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(metricsRaw, &n.Metrics); err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(policyRaw, &n.Policy); err != nil {
		return nil, false, err
	}
	return &n, true, nil
}

func (s *PostgresStore) insertDefaultNode(ctx context.Context, tx pgx.Tx, nodeID string) (*domain.Node, error) {
	now := nowUTC()
	n := &domain.Node{
		Identity:     domain.NodeIdentity{NodeID: nodeID, DisplayName: nodeID, IP: "0.0.0.0", Port: 0},
		Capabilities: domain.DefaultNodeCapabilities(),
		Metrics:      domain.DefaultNodeMetrics(),
		Policy:       domain.DefaultNodePolicy(),
		Status:       domain.NodeUnknown,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSeen:     now,
	}
	if err := s.persistNode(ctx, tx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *PostgresStore) persistNode(ctx context.Context, tx pgx.Tx, n *domain.Node) error {
	capsRaw, err := encodeJSON(n.Capabilities)
	if err != nil {
		return err
	}
	metricsRaw, err := encodeJSON(n.Metrics)
	if err != nil {
		return err
	}
	policyRaw, err := encodeJSON(n.Policy)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO nodes (node_id, display_name, ip, port, status,
		                    capabilities_json, metrics_json, policy_json,
		                    last_seen, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (node_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			ip = EXCLUDED.ip,
			port = EXCLUDED.port,
			status = EXCLUDED.status,
			capabilities_json = EXCLUDED.capabilities_json,
			metrics_json = EXCLUDED.metrics_json,
			policy_json = EXCLUDED.policy_json,
			last_seen = EXCLUDED.last_seen,
			updated_at = EXCLUDED.updated_at`,
		n.Identity.NodeID, n.Identity.DisplayName, n.Identity.IP, n.Identity.Port, n.Status,
		capsRaw, metricsRaw, policyRaw, n.LastSeen, n.CreatedAt, n.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) withNode(ctx context.Context, nodeID string, mutate func(n *domain.Node) error) (*domain.Node, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	n, ok, err := s.loadNode(ctx, tx, nodeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		n, err = s.insertDefaultNode(ctx, tx, nodeID)
		if err != nil {
			return nil, err
		}
	}

	if err := mutate(n); err != nil {
		return nil, err
	}
	if err := s.persistNode(ctx, tx, n); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *PostgresStore) UpsertNodeIdentity(ctx context.Context, nodeID, displayName, ip string, port int) (*domain.Node, error) {
	return s.withNode(ctx, nodeID, func(n *domain.Node) error {
		n.Identity.DisplayName = displayName
		n.Identity.IP = ip
		n.Identity.Port = port
		n.UpdatedAt = nowUTC()
		return nil
	})
}

func (s *PostgresStore) UpsertNodeCapabilities(ctx context.Context, nodeID string, caps domain.NodeCapabilities) (*domain.Node, error) {
	return s.withNode(ctx, nodeID, func(n *domain.Node) error {
		n.Capabilities = caps
		n.UpdatedAt = nowUTC()
		return nil
	})
}

func (s *PostgresStore) UpdateNodeMetrics(ctx context.Context, nodeID string, metrics domain.NodeMetrics) (*domain.Node, error) {
	return s.withNode(ctx, nodeID, func(n *domain.Node) error {
		n.Metrics = metrics
		n.Status = domain.NodeOnline
		n.LastSeen = metrics.HeartbeatTS
		n.UpdatedAt = nowUTC()
		return nil
	})
}

func (s *PostgresStore) UpdateNodePolicy(ctx context.Context, nodeID string, policy domain.NodePolicy) (*domain.Node, error) {
	return s.withNode(ctx, nodeID, func(n *domain.Node) error {
		n.Policy = policy
		n.UpdatedAt = nowUTC()
		return nil
	})
}

func (s *PostgresStore) GetNode(ctx context.Context, nodeID string) (*domain.Node, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	n, ok, err := s.loadNode(ctx, tx, nodeID)
	if err != nil || !ok {
		return nil, err
	}
	return n, nil
}

func (s *PostgresStore) GetNodes(ctx context.Context) ([]*domain.Node, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT node_id, display_name, ip, port, status,
		       capabilities_json, metrics_json, policy_json,
		       last_seen, created_at, updated_at
		FROM nodes ORDER BY node_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Node
	for rows.Next() {
		var (
			n                              domain.Node
			capsRaw, metricsRaw, policyRaw []byte
		)
		if err := rows.Scan(
			&n.Identity.NodeID, &n.Identity.DisplayName, &n.Identity.IP, &n.Identity.Port,
			&n.Status, &capsRaw, &metricsRaw, &policyRaw,
			&n.LastSeen, &n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(capsRaw, &n.Capabilities); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metricsRaw, &n.Metrics); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(policyRaw, &n.Policy); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkOfflineIfStale(ctx context.Context, staleSeconds int) ([]*domain.Node, error) {
	cutoff := nowUTC().Add(-durationSeconds(staleSeconds))

	rows, err := s.pool.Query(ctx, `
		UPDATE nodes SET status = $1, updated_at = $2
		WHERE last_seen < $3 AND status != $1
		RETURNING node_id, display_name, ip, port, status,
		          capabilities_json, metrics_json, policy_json,
		          last_seen, created_at, updated_at`,
		domain.NodeOffline, nowUTC(), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Node
	for rows.Next() {
		var (
			n                              domain.Node
			capsRaw, metricsRaw, policyRaw []byte
		)
		if err := rows.Scan(
			&n.Identity.NodeID, &n.Identity.DisplayName, &n.Identity.IP, &n.Identity.Port,
			&n.Status, &capsRaw, &metricsRaw, &policyRaw,
			&n.LastSeen, &n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(capsRaw, &n.Capabilities); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metricsRaw, &n.Metrics); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(policyRaw, &n.Policy); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, type, status, payload_ref, assigned_node_id, attempts,
		                   created_at, updated_at, started_at, completed_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.Type, job.Status, job.PayloadRef, job.AssignedNodeID, job.Attempts,
		job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt, job.Error,
	)
	if err != nil {
		return nil, err
	}
	cp := *job
	return &cp, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.Type, &j.Status, &j.PayloadRef, &j.AssignedNodeID, &j.Attempts,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt, &j.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, type, status, payload_ref, assigned_node_id, attempts,
		       created_at, updated_at, started_at, completed_at, error
		FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *PostgresStore) ListJobs(ctx context.Context, status *domain.JobStatus, taskType *domain.TaskType, nodeID *string) ([]*domain.Job, error) {
	query := `
		SELECT id, type, status, payload_ref, assigned_node_id, attempts,
		       created_at, updated_at, started_at, completed_at, error
		FROM jobs WHERE 1=1`
	var args []any
	if status != nil {
		args = append(args, *status)
		query += " AND status = $" + strconv.Itoa(len(args))
	}
	if taskType != nil {
		args = append(args, *taskType)
		query += " AND type = $" + strconv.Itoa(len(args))
	}
	if nodeID != nil {
		args = append(args, *nodeID)
		query += " AND assigned_node_id = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(
			&j.ID, &j.Type, &j.Status, &j.PayloadRef, &j.AssignedNodeID, &j.Attempts,
			&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt, &j.Error,
		); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AssignJob(ctx context.Context, id string, nodeID *string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET assigned_node_id = $1, updated_at = $2
		WHERE id = $3
		RETURNING id, type, status, payload_ref, assigned_node_id, attempts,
		          created_at, updated_at, started_at, completed_at, error`,
		nodeID, nowUTC(), id)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, domain.NotFoundErrorf("job %q not found", id)
	}
	return j, nil
}

func (s *PostgresStore) TransitionJobStatus(ctx context.Context, id string, newStatus domain.JobStatus, errMsg *string) (*domain.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, type, status, payload_ref, assigned_node_id, attempts,
		       created_at, updated_at, started_at, completed_at, error
		FROM jobs WHERE id = $1 FOR UPDATE`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, domain.NotFoundErrorf("job %q not found", id)
	}

	now := nowUTC()

	if j.Status == newStatus {
		if errMsg != nil {
			j.Error = errMsg
			j.UpdatedAt = now
		}
	} else {
		if !domain.CanTransition(j.Status, newStatus) {
			return nil, domain.ConflictErrorf("invalid transition from %s to %s", j.Status, newStatus)
		}
		j.Status = newStatus
		j.UpdatedAt = now

		switch newStatus {
		case domain.JobRunning:
			if j.StartedAt == nil {
				j.StartedAt = &now
			}
			j.Attempts++
			j.Error = nil
		case domain.JobCompleted:
			j.CompletedAt = &now
			j.Error = nil
		case domain.JobFailed:
			j.CompletedAt = &now
			if errMsg != nil {
				j.Error = errMsg
			} else if j.Error == nil {
				defaultErr := "Job failed"
				j.Error = &defaultErr
			}
		case domain.JobCancelled:
			j.CompletedAt = &now
			if errMsg != nil {
				j.Error = errMsg
			}
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status = $1, attempts = $2, started_at = $3,
		                completed_at = $4, error = $5, updated_at = $6
		WHERE id = $7`,
		j.Status, j.Attempts, j.StartedAt, j.CompletedAt, j.Error, j.UpdatedAt, j.ID,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return j, nil
}
