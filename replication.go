package couch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Task describes an active task running on an instance, e.g. a continuous
// replication.
type Task map[string]interface{}

// IsReplication reports whether the task is a replication.
func (t Task) IsReplication() bool {
	taskType, _ := t["type"].(string)
	return taskType == "replication"
}

// HasReplicationID reports whether the task carries the given replication
// id. CouchDB suffixes the id with the replication flags, so the match is
// on the prefix.
func (t Task) HasReplicationID(replID string) bool {
	if replID == "" {
		return false
	}
	taskReplID, _ := t["replication_id"].(string)
	return strings.HasPrefix(taskReplID, replID)
}

// ActiveTasks returns all currently active tasks of a CouchDB instance.
func (s *Server) ActiveTasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	err := s.doJSON(ctx, s.cred, http.MethodGet, "/_active_tasks", nil, &tasks)
	return tasks, err
}

// A replication from a source to a target
type Replication struct {
	source     *Database
	target     *Database
	continuous bool
	sessionID  string
	replID     string
}

// A bidirectional replication
type Sync struct {
	replA2B *Replication
	replB2A *Replication
}

type replRequest struct {
	CreateTarget bool   `json:"create_target"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	Continuous   bool   `json:"continuous,omitempty"`
	Cancel       bool   `json:"cancel,omitempty"`
}

type replResponse struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id"`
	LocalID   string `json:"_local_id"`
}

// ReplicateTo replicates the database to a target database, creating the
// target if it does not exist. The target may be on a different host.
// With continuously, the replication keeps running on the instance until
// cancelled.
func (db *Database) ReplicateTo(ctx context.Context, target *Database, continuously bool) (*Replication, error) {
	req := replRequest{
		CreateTarget: true,
		Source:       db.name,
		Target:       target.replicationAddress(),
		Continuous:   continuously,
	}
	var resp replResponse
	err := db.doJSON(ctx, http.MethodPost, "/_replicate", req, &resp)
	if err != nil {
		return nil, err
	}
	return &Replication{
		source:     db,
		target:     target,
		continuous: continuously,
		sessionID:  resp.SessionID,
		replID:     resp.LocalID,
	}, nil
}

// Cancel stops a continuously running replication.
func (repl *Replication) Cancel(ctx context.Context) error {
	req := replRequest{
		CreateTarget: true,
		Source:       repl.source.name,
		Target:       repl.target.replicationAddress(),
		Continuous:   repl.continuous,
		Cancel:       true,
	}
	return repl.source.doJSON(ctx, http.MethodPost, "/_replicate", req, nil)
}

// IsActive reports whether the replication is listed among the active
// tasks of the source instance.
func (repl *Replication) IsActive(ctx context.Context) (bool, error) {
	tasks, err := repl.source.server.ActiveTasks(ctx)
	if err != nil {
		return false, err
	}
	for _, task := range tasks {
		if task.IsReplication() && task.HasReplicationID(repl.replID) {
			return true, nil
		}
	}
	return false, nil
}

// Returns replication source
func (repl *Replication) Source() *Database {
	return repl.source
}

// Returns replication target
func (repl *Replication) Target() *Database {
	return repl.target
}

// Returns whether replication is running continuously or not
func (repl *Replication) Continuous() bool {
	return repl.continuous
}

// SessionID returns the session id CouchDB assigned to the replication.
func (repl *Replication) SessionID() string {
	return repl.sessionID
}

// replicationAddress renders the database address used in _replicate
// requests: the plain name for a local target, the full URL otherwise.
func (db *Database) replicationAddress() string {
	return db.server.url + "/" + db.name
}

// SyncWith synchronizes two databases by setting up two replications, one
// from the given database to target and one from target to the given
// database. If the target database does not exist it will be created.
//
// This method may be convenient but note that it is not atomic: it first
// replicates db to target and then target to db. If the first fails, both
// fail. If the first works but the second doesn't, the first has executed
// nonetheless. For a continuous sync, the first replication is cancelled
// if the second one fails to start.
func (db *Database) SyncWith(ctx context.Context, target *Database, continuously bool) (*Sync, error) {
	replA2B, err := db.ReplicateTo(ctx, target, continuously)
	if err != nil {
		return nil, err
	}
	replB2A, err := target.ReplicateTo(ctx, db, continuously)
	if err != nil {
		replA2B.Cancel(ctx)
		return nil, err
	}
	return &Sync{replA2B: replA2B, replB2A: replB2A}, nil
}

// Cancel stops a continuously running sync.
func (sync *Sync) Cancel(ctx context.Context) error {
	// Cancel both replications even if the first fails, errors combine.
	errA2B := sync.replA2B.Cancel(ctx)
	errB2A := sync.replB2A.Cancel(ctx)
	if errA2B != nil || errB2A != nil {
		return fmt.Errorf("couch: error cancelling replication, a->b: %v, b->a: %v", errA2B, errB2A)
	}
	return nil
}

// IsActive reports whether both replications of the sync are active.
func (sync *Sync) IsActive(ctx context.Context) (bool, error) {
	activeA2B, err := sync.replA2B.IsActive(ctx)
	if err != nil {
		return false, err
	}
	activeB2A, err := sync.replB2A.IsActive(ctx)
	if err != nil {
		return false, err
	}
	return activeA2B && activeB2A, nil
}
