package couch

import (
	"context"
	"net/http"
)

const (
	ConflictsDesignID = "conflicts" // Design document for conflicts view
	ConflictsViewID   = "all"       // Name of the view to query documents with conflicts
)

// Describes a conflict between different document revisions.
// Opaque type, use associated methods.
type Conflict struct {
	db        *Database
	docID     string
	revisions []DynamicDoc
}

// ConflictFor gets conflicting revisions for a document id. Returns nil if
// there are no conflicts.
func (db *Database) ConflictFor(ctx context.Context, docID string) (*Conflict, error) {
	revs, err := db.openRevsFor(ctx, docID)
	if err != nil {
		return nil, err
	}
	openLeaves := filterOpenLeafDocs(revs)
	if len(openLeaves) <= 1 { // One alone does not a conflict make
		return nil, nil
	}
	return &Conflict{db: db, docID: docID, revisions: openLeaves}, nil
}

// SolveWith solves a conflict with a final document. It will set the
// revision of the document to the final revision CouchDB reports once the
// operation is complete.
//
// If the operation is successful, the conflict c will no longer hold any
// information about the formerly conflicting revisions.
//
// Be aware that while you solve a conflict, another party might have done
// so right before you. In this case of a lost update you will receive an
// error and should ask about the state of the conflict again using
// db.ConflictFor(ctx, myDocID).
func (c *Conflict) SolveWith(ctx context.Context, finalDoc Identifiable) error {
	if !c.isReal() {
		return nil
	}

	// Make finalDoc the new leaf of the first open branch by assigning it
	// that revision, then close all other open branches by marking their
	// leaves deleted.
	id, rev := c.revisions[0].IDRev()
	finalDoc.SetIDRev(id, rev)
	leaves := []Identifiable{finalDoc}
	for _, rev := range c.revisions[1:] {
		rev["_deleted"] = true
		leaves = append(leaves, rev)
	}
	result, err := c.db.SaveDocs(ctx, leaves, true)
	if err != nil {
		return err
	}
	if err := result.Err(); err != nil {
		return err
	}
	c.revisions = nil
	return nil
}

// Revisions gets all conflicting document revisions in a preferred format.
// It supports the same types for v as json.Unmarshal.
//
// Revisions in a slice of structs:
//  var revs []MyStruct
//  conflict.Revisions(&revs)
func (c *Conflict) Revisions(v interface{}) error {
	return decodeInto(c.revisions, v)
}

// Returns number of conflicting revisions
func (c *Conflict) RevisionsCount() int {
	return len(c.revisions)
}

func (c *Conflict) isReal() bool {
	return len(c.revisions) > 1
}

// Conflicts returns the ids of all conflicting documents in a database. To
// do so, a dedicated view is necessary at
// [db-url]/_design/conflicts/_view/all. If it doesn't exist and forceView
// is enabled, it will be automatically set up.
//
// Note that if the database is already large at that point, this operation
// can take a very long time. It's recommended to call this method or
// ConflictsCount right after creating a new database.
func (db *Database) Conflicts(ctx context.Context, forceView bool) ([]string, error) {
	if err := db.ensureConflictView(ctx, forceView); err != nil {
		return nil, err
	}
	reduce := false
	result, err := db.View(ctx, ConflictsDesignID, ConflictsViewID, &ViewQuery{Reduce: &reduce})
	if err != nil {
		return nil, err
	}
	docIDs := make([]string, len(result.Rows))
	for i, row := range result.Rows {
		docIDs[i] = row.ID
	}
	return docIDs, nil
}

// ConflictsCount returns the number of conflicting documents, setting up
// the conflicts view if forceView is enabled. See db.Conflicts for
// possible issues around creating the view.
func (db *Database) ConflictsCount(ctx context.Context, forceView bool) (int, error) {
	if err := db.ensureConflictView(ctx, forceView); err != nil {
		return 0, err
	}
	reduce := true
	result, err := db.View(ctx, ConflictsDesignID, ConflictsViewID, &ViewQuery{Reduce: &reduce})
	if err != nil {
		return 0, err
	}
	if len(result.Rows) > 0 {
		return result.Rows[0].ValueInt(), nil
	}
	return 0, nil
}

// Make sure the conflict view exists, if not, create it if forceView is enabled
func (db *Database) ensureConflictView(ctx context.Context, forceView bool) error {
	if db.HasView(ctx, ConflictsDesignID, ConflictsViewID) {
		return nil
	}
	if forceView {
		return db.createConflictView(ctx)
	}
	return nil
}

// Inserts a design document with a view containing a map function to
// collect document ids with conflicts and a reduce function to count them.
func (db *Database) createConflictView(ctx context.Context) error {
	d := &design{Views: map[string]ViewDef{
		ConflictsViewID: {
			Map:    `function(doc) { if (doc._conflicts) { emit(null, null); } }`,
			Reduce: `_count`,
		},
	}}
	d.SetIDRev("_design/"+ConflictsDesignID, "")
	_, err := db.SaveDoc(ctx, d)
	return err
}

// Used to read out CouchDB's answer to open_revs, filtered by the 'ok'
// field (=available revision). See
// https://docs.couchdb.org/en/latest/replication/conflicts.html
type openRevision struct {
	Doc DynamicDoc `json:"ok"`
}

// Gets all open and available revisions of a document (including _deleted ones)
func (db *Database) openRevsFor(ctx context.Context, docID string) ([]openRevision, error) {
	var revs []openRevision
	path := docPath(db.name, docID) + "?open_revs=all"
	err := db.doJSON(ctx, http.MethodGet, path, nil, &revs)
	return revs, err
}

// Returns docs that are not marked as deleted
func filterOpenLeafDocs(revs []openRevision) []DynamicDoc {
	var openRevs []DynamicDoc
	for _, rev := range revs {
		if rev.Doc == nil {
			continue
		}
		if del, ok := rev.Doc["_deleted"].(bool); !ok || !del {
			openRevs = append(openRevs, rev.Doc)
		}
	}
	return openRevs
}
