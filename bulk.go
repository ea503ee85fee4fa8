package couch

import (
	"github.com/hashicorp/go-multierror"
)

// Container for bulk operations, use associated methods.
type Bulk struct {
	Docs         []Identifiable `json:"docs"`
	AllOrNothing bool           `json:"all_or_nothing,omitempty"`
}

// Add a document to a bulk of documents
func (bulk *Bulk) Add(doc Identifiable) {
	bulk.Docs = append(bulk.Docs, doc)
}

// Find a document in a bulk of documents
func (bulk *Bulk) Find(id, rev string) Identifiable {
	for _, doc := range bulk.Docs {
		docID, docRev := doc.IDRev()
		if docID == id && docRev == rev {
			return doc
		}
	}
	return nil
}

// BulkItem is the outcome CouchDB reports for a single document of a bulk
// save or delete.
type BulkItem struct {
	OK     bool   `json:"ok"`
	ID     string `json:"id"`
	Rev    string `json:"rev"`
	Type   string `json:"error"`
	Reason string `json:"reason"`
}

// Err returns nil if the document was written, or the classified error
// CouchDB reported for it.
func (it BulkItem) Err() error {
	if it.OK || it.Type == "" {
		return nil
	}
	err := rowError(it.Type, it.Reason)
	if err.Reason == "" {
		err.Reason = it.Reason
	}
	return err
}

// BulkResult holds per-document outcomes of a bulk operation, one entry per
// input document, in input order.
type BulkResult []BulkItem

// Err aggregates the errors of all failed documents, or returns nil if
// every document was written.
func (r BulkResult) Err() error {
	var result *multierror.Error
	for _, it := range r {
		if err := it.Err(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
