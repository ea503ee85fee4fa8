package couch_test

// An in-process CouchDB stand-in covering the slice of the HTTP API this
// client speaks. It keeps documents in memory, checks revisions the way
// CouchDB does, and deliberately answers keyed _all_docs requests in
// reverse key order so ordering guarantees of the client get exercised.

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nephics/couch"
)

type fakeAttachment struct {
	contentType string
	data        []byte
}

type fakeDB struct {
	docs        map[string]map[string]interface{}
	attachments map[string]map[string]fakeAttachment
}

type fakeCouch struct {
	mu      sync.Mutex
	dbs     map[string]*fakeDB
	revSeq  int
	uuidSeq int

	// last keyed view/_all_docs request, for wire-shape assertions
	lastViewMethod string
	lastViewQuery  url.Values
	lastViewBody   map[string]interface{}

	activeRepls []string

	srv *httptest.Server
}

func newFakeCouch(t *testing.T) *fakeCouch {
	t.Helper()
	f := &fakeCouch{dbs: make(map[string]*fakeDB)}

	r := chi.NewRouter()
	r.Get("/_all_dbs", f.handleAllDBs)
	r.Get("/_uuids", f.handleUUIDs)
	r.Get("/_active_tasks", f.handleActiveTasks)
	r.Post("/_replicate", f.handleReplicate)

	r.Put("/{db}", f.handleCreateDB)
	r.Delete("/{db}", f.handleDeleteDB)
	r.Head("/{db}", f.handleHeadDB)
	r.Get("/{db}", f.handleInfoDB)
	r.Post("/{db}", f.handleCreateDoc)

	r.Post("/{db}/_bulk_docs", f.handleBulkDocs)
	r.Get("/{db}/_all_docs", f.handleAllDocs)
	r.Post("/{db}/_all_docs", f.handleAllDocs)
	r.Post("/{db}/_temp_view", f.handleView)
	r.Get("/{db}/_design/{design}/_view/{view}", f.handleView)
	r.Post("/{db}/_design/{design}/_view/{view}", f.handleView)
	r.Head("/{db}/_design/{design}/_view/{view}", f.handleHeadView)

	r.Get("/{db}/{docid}", f.handleGetDoc)
	r.Head("/{db}/{docid}", f.handleHeadDoc)
	r.Put("/{db}/{docid}", f.handlePutDoc)
	r.Delete("/{db}/{docid}", f.handleDeleteDoc)

	r.Get("/{db}/{docid}/{att}", f.handleGetAttachment)
	r.Put("/{db}/{docid}/{att}", f.handlePutAttachment)
	r.Delete("/{db}/{docid}/{att}", f.handleDeleteAttachment)

	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCouch) server() *couch.Server {
	return couch.NewServer(f.srv.URL)
}

func (f *fakeCouch) nextRev(prev string) string {
	f.revSeq++
	gen := 1
	if prev != "" {
		if n, err := strconv.Atoi(strings.SplitN(prev, "-", 2)[0]); err == nil {
			gen = n + 1
		}
	}
	return fmt.Sprintf("%d-%06x", gen, f.revSeq)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, errType, reason string) {
	writeJSON(w, status, map[string]string{"error": errType, "reason": reason})
}

func readJSONBody(r *http.Request) map[string]interface{} {
	var body map[string]interface{}
	data, _ := io.ReadAll(r.Body)
	json.Unmarshal(data, &body)
	return body
}

// param returns a path parameter with any percent-escaping undone. The
// client escapes path segments, so a design doc id arrives as _design%2Fx.
func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

func (f *fakeCouch) db(r *http.Request) *fakeDB {
	return f.dbs[param(r, "db")]
}

// lastView reports the most recent view-shaped request under the lock.
func (f *fakeCouch) lastView() (method string, query url.Values, body map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastViewMethod, f.lastViewQuery, f.lastViewBody
}

func (f *fakeCouch) handleAllDBs(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.dbs))
	for name := range f.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, 200, names)
}

func (f *fakeCouch) handleUUIDs(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	if count < 1 {
		count = 1
	}
	uuids := make([]string, count)
	for i := range uuids {
		f.uuidSeq++
		uuids[i] = fmt.Sprintf("%032x", f.uuidSeq)
	}
	writeJSON(w, 200, map[string]interface{}{"uuids": uuids})
}

func (f *fakeCouch) handleActiveTasks(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tasks := make([]map[string]interface{}, 0, len(f.activeRepls))
	for _, id := range f.activeRepls {
		tasks = append(tasks, map[string]interface{}{
			"type":           "replication",
			"replication_id": id + "+continuous",
		})
	}
	writeJSON(w, 200, tasks)
}

func (f *fakeCouch) handleReplicate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body := readJSONBody(r)
	source, _ := body["source"].(string)
	target, _ := body["target"].(string)
	sourceName := source[strings.LastIndex(source, "/")+1:]
	targetName := target[strings.LastIndex(target, "/")+1:]
	continuous, _ := body["continuous"].(bool)
	createTarget, _ := body["create_target"].(bool)
	cancel, _ := body["cancel"].(bool)

	replID := "repl-" + sourceName + "-" + targetName
	if cancel {
		for i, id := range f.activeRepls {
			if id == replID {
				f.activeRepls = append(f.activeRepls[:i], f.activeRepls[i+1:]...)
				break
			}
		}
		writeJSON(w, 200, map[string]interface{}{"ok": true})
		return
	}

	src, ok := f.dbs[sourceName]
	if !ok {
		writeErr(w, 404, "db_not_found", "could not open source database "+sourceName)
		return
	}
	tgt, ok := f.dbs[targetName]
	if !ok {
		if !createTarget {
			writeErr(w, 404, "db_not_found", "could not open target database "+targetName)
			return
		}
		tgt = &fakeDB{
			docs:        make(map[string]map[string]interface{}),
			attachments: make(map[string]map[string]fakeAttachment),
		}
		f.dbs[targetName] = tgt
	}
	for id, doc := range src.docs {
		cp := make(map[string]interface{}, len(doc))
		for k, v := range doc {
			cp[k] = v
		}
		tgt.docs[id] = cp
	}
	if continuous {
		f.activeRepls = append(f.activeRepls, replID)
	}
	writeJSON(w, 200, map[string]interface{}{
		"ok":         true,
		"session_id": "session-" + replID,
		"_local_id":  replID,
	})
}

func (f *fakeCouch) handleCreateDB(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := param(r, "db")
	if _, exists := f.dbs[name]; exists {
		writeErr(w, 412, "file_exists", "The database could not be created, the file already exists.")
		return
	}
	f.dbs[name] = &fakeDB{
		docs:        make(map[string]map[string]interface{}),
		attachments: make(map[string]map[string]fakeAttachment),
	}
	writeJSON(w, 201, map[string]interface{}{"ok": true})
}

func (f *fakeCouch) handleDeleteDB(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := param(r, "db")
	if _, exists := f.dbs[name]; !exists {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	delete(f.dbs, name)
	writeJSON(w, 200, map[string]interface{}{"ok": true})
}

func (f *fakeCouch) handleHeadDB(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db(r) == nil {
		w.WriteHeader(404)
		return
	}
	w.WriteHeader(200)
}

func (f *fakeCouch) handleInfoDB(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := f.db(r)
	if db == nil {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	writeJSON(w, 200, map[string]interface{}{
		"db_name":   param(r, "db"),
		"doc_count": len(db.docs),
	})
}

func (f *fakeCouch) writeDoc(db *fakeDB, doc map[string]interface{}) (string, string, bool) {
	id, _ := doc["_id"].(string)
	if id == "" {
		f.uuidSeq++
		id = fmt.Sprintf("%032x", f.uuidSeq)
	}
	rev, _ := doc["_rev"].(string)
	existing, exists := db.docs[id]
	if exists {
		curRev, _ := existing["_rev"].(string)
		if rev != curRev {
			return id, "", false
		}
	} else if rev != "" {
		return id, "", false
	}
	if deleted, _ := doc["_deleted"].(bool); deleted {
		newRev := f.nextRev(rev)
		delete(db.docs, id)
		delete(db.attachments, id)
		return id, newRev, true
	}
	newRev := f.nextRev(rev)
	stored := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		stored[k] = v
	}
	stored["_id"] = id
	stored["_rev"] = newRev
	db.docs[id] = stored
	return id, newRev, true
}

func (f *fakeCouch) handleCreateDoc(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := f.db(r)
	if db == nil {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	doc := readJSONBody(r)
	id, rev, ok := f.writeDoc(db, doc)
	if !ok {
		writeErr(w, 409, "conflict", "Document update conflict.")
		return
	}
	writeJSON(w, 201, map[string]interface{}{"ok": true, "id": id, "rev": rev})
}

func (f *fakeCouch) handlePutDoc(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := f.db(r)
	if db == nil {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	doc := readJSONBody(r)
	doc["_id"] = param(r, "docid")
	id, rev, ok := f.writeDoc(db, doc)
	if !ok {
		writeErr(w, 409, "conflict", "Document update conflict.")
		return
	}
	writeJSON(w, 201, map[string]interface{}{"ok": true, "id": id, "rev": rev})
}

func (f *fakeCouch) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := f.db(r)
	if db == nil {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	doc, ok := db.docs[param(r, "docid")]
	if !ok {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	if r.URL.Query().Get("open_revs") == "all" {
		writeJSON(w, 200, []map[string]interface{}{{"ok": doc}})
		return
	}
	rev, _ := doc["_rev"].(string)
	if r.Header.Get("If-None-Match") == `"`+rev+`"` {
		w.WriteHeader(304)
		return
	}
	writeJSON(w, 200, doc)
}

func (f *fakeCouch) handleHeadDoc(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := f.db(r)
	if db == nil {
		w.WriteHeader(404)
		return
	}
	if _, ok := db.docs[param(r, "docid")]; !ok {
		w.WriteHeader(404)
		return
	}
	w.WriteHeader(200)
}

func (f *fakeCouch) handleDeleteDoc(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := f.db(r)
	if db == nil {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	id := param(r, "docid")
	doc, ok := db.docs[id]
	if !ok {
		writeErr(w, 404, "not_found", "deleted")
		return
	}
	curRev, _ := doc["_rev"].(string)
	if r.URL.Query().Get("rev") != curRev {
		writeErr(w, 409, "conflict", "Document update conflict.")
		return
	}
	newRev := f.nextRev(curRev)
	delete(db.docs, id)
	delete(db.attachments, id)
	writeJSON(w, 200, map[string]interface{}{"ok": true, "id": id, "rev": newRev})
}

func (f *fakeCouch) handleBulkDocs(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := f.db(r)
	if db == nil {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	body := readJSONBody(r)
	docs, _ := body["docs"].([]interface{})
	results := make([]map[string]interface{}, 0, len(docs))
	for _, raw := range docs {
		doc, _ := raw.(map[string]interface{})
		id, rev, ok := f.writeDoc(db, doc)
		if !ok {
			results = append(results, map[string]interface{}{
				"id": id, "error": "conflict", "reason": "Document update conflict.",
			})
			continue
		}
		results = append(results, map[string]interface{}{"ok": true, "id": id, "rev": rev})
	}
	writeJSON(w, 201, results)
}

// handleAllDocs answers keyed requests in reverse key order on purpose:
// clients must not rely on server-side row order.
func (f *fakeCouch) handleAllDocs(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := f.db(r)
	if db == nil {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	includeDocs := r.URL.Query().Get("include_docs") == "true"

	var keys []string
	if r.Method == http.MethodPost {
		body := readJSONBody(r)
		f.lastViewMethod = r.Method
		f.lastViewQuery = r.URL.Query()
		f.lastViewBody = body
		rawKeys, _ := body["keys"].([]interface{})
		for _, k := range rawKeys {
			if s, ok := k.(string); ok {
				keys = append(keys, s)
			}
		}
	} else {
		f.lastViewMethod = r.Method
		f.lastViewQuery = r.URL.Query()
		f.lastViewBody = nil
		for id := range db.docs {
			keys = append(keys, id)
		}
		sort.Strings(keys)
	}

	if r.Method == http.MethodPost {
		reversed := make([]string, len(keys))
		for i, k := range keys {
			reversed[len(keys)-1-i] = k
		}
		keys = reversed
	}

	rows := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		doc, ok := db.docs[key]
		if !ok {
			rows = append(rows, map[string]interface{}{"key": key, "error": "not_found"})
			continue
		}
		rev, _ := doc["_rev"].(string)
		row := map[string]interface{}{
			"id":    key,
			"key":   key,
			"value": map[string]interface{}{"rev": rev},
		}
		if includeDocs {
			row["doc"] = doc
		}
		rows = append(rows, row)
	}
	writeJSON(w, 200, map[string]interface{}{
		"total_rows": len(db.docs),
		"offset":     0,
		"rows":       rows,
	})
}

// handleView emits one row per document carrying a "msg" field, keyed by
// doc id, the way the original test design doc does. The received query
// string and body are recorded for assertions.
func (f *fakeCouch) handleView(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := f.db(r)
	if db == nil {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	f.lastViewMethod = r.Method
	f.lastViewQuery = r.URL.Query()
	f.lastViewBody = nil
	if r.Method == http.MethodPost {
		f.lastViewBody = readJSONBody(r)
	}

	ids := make([]string, 0, len(db.docs))
	for id, doc := range db.docs {
		if _, ok := doc["msg"]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if f.lastViewQuery.Get("descending") == "true" {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}
	if keysRaw, ok := f.lastViewBody["keys"].([]interface{}); ok {
		var keyed []string
		for _, k := range keysRaw {
			if s, ok := k.(string); ok {
				keyed = append(keyed, s)
			}
		}
		ids = keyed
	}
	rows := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		doc, ok := db.docs[id]
		if !ok {
			rows = append(rows, map[string]interface{}{"key": id, "error": "not_found"})
			continue
		}
		rows = append(rows, map[string]interface{}{
			"id": id, "key": id, "value": doc["msg"],
		})
	}
	writeJSON(w, 200, map[string]interface{}{
		"total_rows": len(rows),
		"offset":     0,
		"rows":       rows,
	})
}

func (f *fakeCouch) handleHeadView(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := f.db(r)
	if db == nil {
		w.WriteHeader(404)
		return
	}
	if _, ok := db.docs["_design/"+param(r, "design")]; !ok {
		w.WriteHeader(404)
		return
	}
	w.WriteHeader(200)
}

func (f *fakeCouch) handlePutAttachment(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := f.db(r)
	if db == nil {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	id := param(r, "docid")
	name := param(r, "att")
	doc, exists := db.docs[id]
	if exists {
		curRev, _ := doc["_rev"].(string)
		if r.URL.Query().Get("rev") != curRev {
			writeErr(w, 409, "conflict", "Document update conflict.")
			return
		}
	} else {
		doc = map[string]interface{}{"_id": id}
		db.docs[id] = doc
	}
	data, _ := io.ReadAll(r.Body)
	if db.attachments[id] == nil {
		db.attachments[id] = make(map[string]fakeAttachment)
	}
	db.attachments[id][name] = fakeAttachment{
		contentType: r.Header.Get("Content-Type"),
		data:        data,
	}
	prevRev, _ := doc["_rev"].(string)
	newRev := f.nextRev(prevRev)
	doc["_rev"] = newRev
	atts, _ := doc["_attachments"].(map[string]interface{})
	if atts == nil {
		atts = make(map[string]interface{})
		doc["_attachments"] = atts
	}
	atts[name] = map[string]interface{}{
		"content_type": r.Header.Get("Content-Type"),
		"length":       len(data),
		"stub":         true,
	}
	writeJSON(w, 201, map[string]interface{}{"ok": true, "id": id, "rev": newRev})
}

func (f *fakeCouch) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := f.db(r)
	if db == nil {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	att, ok := db.attachments[param(r, "docid")][param(r, "att")]
	if !ok {
		writeErr(w, 404, "not_found", "Document is missing attachment")
		return
	}
	w.Header().Set("Content-Type", att.contentType)
	w.WriteHeader(200)
	w.Write(att.data)
}

func (f *fakeCouch) handleDeleteAttachment(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := f.db(r)
	if db == nil {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	id := param(r, "docid")
	name := param(r, "att")
	doc, ok := db.docs[id]
	if !ok {
		writeErr(w, 404, "not_found", "missing")
		return
	}
	curRev, _ := doc["_rev"].(string)
	if r.URL.Query().Get("rev") != curRev {
		writeErr(w, 409, "conflict", "Document update conflict.")
		return
	}
	delete(db.attachments[id], name)
	if atts, ok := doc["_attachments"].(map[string]interface{}); ok {
		delete(atts, name)
	}
	newRev := f.nextRev(curRev)
	doc["_rev"] = newRev
	writeJSON(w, 200, map[string]interface{}{"ok": true, "id": id, "rev": newRev})
}
