package couch

import (
	"context"
	"net/http"
	"net/url"
)

// GetDoc gets the latest revision of the document with the given id.
// Fails with a NotFound error if the document is absent.
func (db *Database) GetDoc(ctx context.Context, id string, opts ...RequestOption) (DynamicDoc, error) {
	var doc DynamicDoc
	err := db.doJSON(ctx, http.MethodGet, docPath(db.name, id), nil, &doc, opts...)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocRev gets a specific revision of a document.
func (db *Database) GetDocRev(ctx context.Context, id, rev string) (DynamicDoc, error) {
	var doc DynamicDoc
	path := docPath(db.name, id) + "?rev=" + url.QueryEscape(rev)
	err := db.doJSON(ctx, http.MethodGet, path, nil, &doc)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocs gets multiple documents with the given list of ids, returned in
// the same order as the ids regardless of the order the database answered
// in. If any requested document is missing, the whole call fails with a
// NotFound error.
func (db *Database) GetDocs(ctx context.Context, ids []string) ([]DynamicDoc, error) {
	var result struct {
		Rows []struct {
			Key   string `json:"key"`
			Error string `json:"error"`
			Value struct {
				Deleted bool `json:"deleted"`
			} `json:"value"`
			Doc DynamicDoc `json:"doc"`
		} `json:"rows"`
	}
	path := docPath(db.name, "_all_docs") + "?include_docs=true"
	body := map[string]interface{}{"keys": ids}
	if err := db.doJSON(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}

	byID := make(map[string]DynamicDoc, len(result.Rows))
	for _, row := range result.Rows {
		if row.Error != "" {
			return nil, rowError(row.Error, "no document with id "+row.Key)
		}
		if row.Doc == nil || row.Value.Deleted {
			return nil, rowError("not_found", "no document with id "+row.Key)
		}
		byID[row.Key] = row.Doc
	}
	docs := make([]DynamicDoc, len(ids))
	for i, id := range ids {
		doc, ok := byID[id]
		if !ok {
			return nil, rowError("not_found", "no document with id "+id)
		}
		docs[i] = doc
	}
	return docs, nil
}

// HasDoc checks if a document with the given id exists. A missing document
// is reported as false, never as a NotFound error.
func (db *Database) HasDoc(ctx context.Context, id string) (bool, error) {
	return db.server.head(ctx, db.Cred(), docPath(db.name, id))
}

// SaveDoc saves a document as follows: if doc has an id, the document is
// created or updated under that id, if not, the database assigns one. The
// new id and revision are written back to doc and also returned. Updating
// with a stale revision fails with a Conflict error.
func (db *Database) SaveDoc(ctx context.Context, doc Identifiable) (DocRef, error) {
	var ref DocRef
	var err error
	id, _ := doc.IDRev()
	if id == "" {
		err = db.doJSON(ctx, http.MethodPost, docPath(db.name), doc, &ref)
	} else {
		err = db.doJSON(ctx, http.MethodPut, docPath(db.name, id), doc, &ref)
	}
	if err != nil {
		return DocRef{}, err
	}
	doc.SetIDRev(ref.ID, ref.Rev)
	return ref, nil
}

// SaveDocs saves multiple documents in one request using the bulk API.
// The result holds one outcome per input document, in input order. With
// allOrNothing, the database applies its transactional bulk semantics, see
// https://docs.couchdb.org/en/latest/api/database/bulk-api.html
//
// Element-level failures, e.g. a revision conflict on one document, do not
// fail the call. Inspect the result, or its Err() aggregate, to find them.
// Documents written successfully get their new id and revision written back.
func (db *Database) SaveDocs(ctx context.Context, docs []Identifiable, allOrNothing bool) (BulkResult, error) {
	bulk := &Bulk{Docs: docs, AllOrNothing: allOrNothing}
	result, err := db.saveBulk(ctx, bulk)
	if err != nil {
		return nil, err
	}
	for i, it := range result {
		if i < len(docs) && it.Err() == nil && it.Rev != "" {
			docs[i].SetIDRev(it.ID, it.Rev)
		}
	}
	return result, nil
}

// DeleteDoc removes a document from the database. The doc must carry both
// its id and current revision, a stale revision fails with Conflict.
func (db *Database) DeleteDoc(ctx context.Context, doc Identifiable) (DocRef, error) {
	id, rev := doc.IDRev()
	if id == "" || rev == "" {
		return DocRef{}, badRequestf("missing id or revision information in doc")
	}
	var ref DocRef
	path := docPath(db.name, id) + "?rev=" + url.QueryEscape(rev)
	if err := db.doJSON(ctx, http.MethodDelete, path, nil, &ref); err != nil {
		return DocRef{}, err
	}
	return ref, nil
}

// DeleteDocs deletes multiple documents in one request by marking them
// deleted through the bulk API. Every doc must carry id and revision.
// Outcomes are reported per document, in input order, like SaveDocs.
func (db *Database) DeleteDocs(ctx context.Context, docs []Identifiable, allOrNothing bool) (BulkResult, error) {
	deleted := make([]Identifiable, len(docs))
	for i, doc := range docs {
		id, rev := doc.IDRev()
		if id == "" || rev == "" {
			return nil, badRequestf("missing id or revision information in one or more docs")
		}
		deleted[i] = DynamicDoc{"_id": id, "_rev": rev, "_deleted": true}
	}
	return db.saveBulk(ctx, &Bulk{Docs: deleted, AllOrNothing: allOrNothing})
}

func (db *Database) saveBulk(ctx context.Context, bulk *Bulk) (BulkResult, error) {
	var result BulkResult
	path := docPath(db.name, "_bulk_docs")
	if err := db.doJSON(ctx, http.MethodPost, path, bulk, &result); err != nil {
		return nil, err
	}
	return result, nil
}
