package couch

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

var dbNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_$()+/-]*$`)

// validateDBName enforces the CouchDB naming rules before a name reaches
// the wire: lowercase letter first, then lowercase letters, digits or
// _ $ ( ) + - /.
func validateDBName(name string) error {
	err := validation.Validate(name,
		validation.Required,
		validation.Match(dbNamePattern),
	)
	if err != nil {
		return badRequestf("invalid database name %q: %v", name, err)
	}
	return nil
}

// NewDocID returns a fresh client-generated document id in the same 32-char
// hex format the _uuids endpoint produces, without a server round-trip.
func NewDocID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ListDBs returns the names of all databases on the instance.
func (s *Server) ListDBs(ctx context.Context) ([]string, error) {
	var names []string
	err := s.doJSON(ctx, s.cred, http.MethodGet, "/_all_dbs", nil, &names)
	return names, err
}

// UUIDs fetches count unique ids from the instance.
func (s *Server) UUIDs(ctx context.Context, count int) ([]string, error) {
	if count < 1 {
		count = 1
	}
	var result struct {
		UUIDs []string `json:"uuids"`
	}
	path := "/_uuids?count=" + strconv.Itoa(count)
	err := s.doJSON(ctx, s.cred, http.MethodGet, path, nil, &result)
	return result.UUIDs, err
}

// Create a new database. Fails with a PreconditionFailed error if a
// database with that name already exists.
func (db *Database) Create(ctx context.Context) error {
	if err := validateDBName(db.name); err != nil {
		return err
	}
	return db.doJSON(ctx, http.MethodPut, docPath(db.name), nil, nil)
}

// DropDatabase deletes the database.
func (db *Database) DropDatabase(ctx context.Context) error {
	return db.doJSON(ctx, http.MethodDelete, docPath(db.name), nil, nil)
}

// Exists returns true if the database really exists.
func (db *Database) Exists(ctx context.Context) bool {
	exists, _ := db.server.head(ctx, db.Cred(), docPath(db.name))
	return exists
}

// Info returns the metadata CouchDB keeps about the database, e.g.
// doc_count and update_seq.
func (db *Database) Info(ctx context.Context) (DynamicDoc, error) {
	var info DynamicDoc
	err := db.doJSON(ctx, http.MethodGet, docPath(db.name), nil, &info)
	return info, err
}

// Pull replicates changes from a source database into this one. The source
// may be a database name on the same instance or a full URL to a remote
// database. With createTarget, the database is created if missing;
// without, pulling into a missing database fails with NotFound.
func (db *Database) Pull(ctx context.Context, source string, createTarget bool) error {
	req := replRequest{
		Source:       source,
		Target:       db.name,
		CreateTarget: createTarget,
	}
	return db.doJSON(ctx, http.MethodPost, "/_replicate", req, nil)
}
