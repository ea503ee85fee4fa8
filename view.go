package couch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ViewDef is an ad-hoc view definition, a map function and an optional
// reduce function, as sent to the _temp_view endpoint or stored in a
// design document.
type ViewDef struct {
	Map    string `json:"map"`
	Reduce string `json:"reduce,omitempty"`
}

// CouchDB design document holding named views.
type design struct {
	Doc
	Views map[string]ViewDef `json:"views"`
}

// ViewQuery holds the recognized query parameters of a view request, each
// one optional. Key-valued parameters (Key, StartKey, EndKey) are
// JSON-encoded on the wire, so a string key becomes a quoted JSON string
// in the query string. StartKeyDocID and EndKeyDocID are document ids and
// travel literally. Keys is sent as the body of a POST, never in the query
// string, so the number of keys is not bounded by the URL length.
//
// See https://docs.couchdb.org/en/latest/api/ddoc/views.html for the
// meaning of each parameter; semantics are entirely the database's.
type ViewQuery struct {
	Key           interface{}
	Keys          []interface{}
	StartKey      interface{}
	EndKey        interface{}
	StartKeyDocID string
	EndKeyDocID   string
	Limit         *int
	Skip          *int
	Stale         string // "ok" or "update_after"
	Descending    bool
	Group         bool
	GroupLevel    *int
	Reduce        *bool
	InclusiveEnd  *bool
	IncludeDocs   bool
}

// encode renders the query string (without leading '?') and the request
// body entries implied by the parameters. Parameters render in a fixed
// order so requests are reproducible.
func (q *ViewQuery) encode() (string, map[string]interface{}, error) {
	if q == nil {
		return "", nil, nil
	}
	var opts []string
	addJSON := func(name string, value interface{}) error {
		enc, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("couch: encode view parameter %s: %w", name, err)
		}
		opts = append(opts, name+"="+url.QueryEscape(string(enc)))
		return nil
	}
	addLiteral := func(name, value string) {
		opts = append(opts, name+"="+url.QueryEscape(value))
	}

	if q.Key != nil {
		if err := addJSON("key", q.Key); err != nil {
			return "", nil, err
		}
	}
	if q.StartKey != nil {
		if err := addJSON("startkey", q.StartKey); err != nil {
			return "", nil, err
		}
	}
	if q.StartKeyDocID != "" {
		addLiteral("startkey_docid", q.StartKeyDocID)
	}
	if q.EndKey != nil {
		if err := addJSON("endkey", q.EndKey); err != nil {
			return "", nil, err
		}
	}
	if q.EndKeyDocID != "" {
		addLiteral("endkey_docid", q.EndKeyDocID)
	}
	if q.Limit != nil {
		addLiteral("limit", strconv.Itoa(*q.Limit))
	}
	if q.Skip != nil {
		addLiteral("skip", strconv.Itoa(*q.Skip))
	}
	if q.Stale != "" {
		if q.Stale != "ok" && q.Stale != "update_after" {
			return "", nil, badRequestf("invalid stale value %q", q.Stale)
		}
		addLiteral("stale", q.Stale)
	}
	if q.Descending {
		addLiteral("descending", "true")
	}
	if q.Group {
		addLiteral("group", "true")
	}
	if q.GroupLevel != nil {
		addLiteral("group_level", strconv.Itoa(*q.GroupLevel))
	}
	if q.Reduce != nil {
		addLiteral("reduce", strconv.FormatBool(*q.Reduce))
	}
	if q.InclusiveEnd != nil {
		addLiteral("inclusive_end", strconv.FormatBool(*q.InclusiveEnd))
	}
	if q.IncludeDocs {
		addLiteral("include_docs", "true")
	}

	var body map[string]interface{}
	if q.Keys != nil {
		body = map[string]interface{}{"keys": q.Keys}
	}
	return strings.Join(opts, "&"), body, nil
}

// Container for view result rows.
type ViewResult struct {
	TotalRows int64 `json:"total_rows"`
	Offset    int64 `json:"offset"`
	Rows      []Row `json:"rows"`
}

// Row is a single view result row.
type Row struct {
	ID    string      `json:"id"`
	Key   interface{} `json:"key"`
	Value interface{} `json:"value"`
	Doc   DynamicDoc  `json:"doc"`
	Type  string      `json:"error"`
}

// ValueInt returns the row value as an int, e.g. for _count reductions.
func (r *Row) ValueInt() int {
	num, _ := r.Value.(float64)
	return int(num)
}

// ScanValue decodes the row value into a caller-provided type.
func (r *Row) ScanValue(v interface{}) error {
	return decodeInto(r.Value, v)
}

// ScanDoc decodes the included document into a caller-provided type. Only
// useful with queries that set IncludeDocs.
func (r *Row) ScanDoc(v interface{}) error {
	if r.Doc == nil {
		return badRequestf("row has no document, query with IncludeDocs")
	}
	return decodeInto(map[string]interface{}(r.Doc), v)
}

// View queries a view stored in the given design document. Row-level
// errors reported inside the result are promoted to a classified error.
func (db *Database) View(ctx context.Context, designID, viewID string, q *ViewQuery) (*ViewResult, error) {
	return db.queryView(ctx, designPath(db.name, designID, viewID), q, nil)
}

// AllDocs queries the built-in _all_docs view, accepting the same
// parameters as View.
func (db *Database) AllDocs(ctx context.Context, q *ViewQuery) (*ViewResult, error) {
	return db.queryView(ctx, docPath(db.name, "_all_docs"), q, nil)
}

// TempView queries an ad-hoc view. The view definition is sent as the
// request body, so this is always a POST. Temporary views are expensive,
// CouchDB executes them against every document; prefer stored views
// outside of development.
func (db *Database) TempView(ctx context.Context, def ViewDef, q *ViewQuery) (*ViewResult, error) {
	extra := map[string]interface{}{"map": def.Map}
	if def.Reduce != "" {
		extra["reduce"] = def.Reduce
	}
	return db.queryView(ctx, docPath(db.name, "_temp_view"), q, extra)
}

// HasView checks if a view really exists.
func (db *Database) HasView(ctx context.Context, designID, viewID string) bool {
	ok, _ := db.server.head(ctx, db.Cred(), designPath(db.name, designID, viewID))
	return ok
}

// queryView renders the query, dispatches GET or POST depending on whether
// a body is required, and promotes any row-level error.
func (db *Database) queryView(ctx context.Context, path string, q *ViewQuery, extraBody map[string]interface{}) (*ViewResult, error) {
	opts, body, err := q.encode()
	if err != nil {
		return nil, err
	}
	if opts != "" {
		path += "?" + opts
	}
	if len(extraBody) > 0 {
		if body == nil {
			body = make(map[string]interface{}, len(extraBody))
		}
		for k, v := range extraBody {
			body[k] = v
		}
	}

	result := &ViewResult{}
	if body != nil {
		err = db.doJSON(ctx, http.MethodPost, path, body, result)
	} else {
		err = db.doJSON(ctx, http.MethodGet, path, nil, result)
	}
	if err != nil {
		return nil, err
	}
	for _, row := range result.Rows {
		if row.Type != "" {
			return nil, rowError(row.Type, "error in view row for key "+fmt.Sprint(row.Key))
		}
	}
	return result, nil
}
