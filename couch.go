package couch

import (
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
)

// CouchDB instance
type Server struct {
	url       string
	cred      *Credentials
	transport Transport
	log       hclog.Logger
}

// Database of a CouchDB instance
type Database struct {
	server *Server
	name   string
	cred   *Credentials
}

// Access credentials
type Credentials struct {
	user     string
	password string
}

// Option configures a Server handle.
type Option func(*Server)

// WithCredentials sets the credentials used for all requests to the instance.
func WithCredentials(cred *Credentials) Option {
	return func(s *Server) {
		s.cred = cred
	}
}

// WithTransport replaces the transport used to dispatch requests, e.g. with
// a RetryTransport or a test double.
func WithTransport(t Transport) Option {
	return func(s *Server) {
		if t != nil {
			s.transport = t
		}
	}
}

// WithHTTPClient sets the http.Client used by the default transport.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Server) {
		s.transport = &HTTPTransport{Client: client}
	}
}

// WithRetry wraps the transport so that transport failures and 5xx
// responses are retried up to maxRetries times with exponential backoff.
// Apply after WithTransport or WithHTTPClient if combining options.
func WithRetry(maxRetries uint64) Option {
	return func(s *Server) {
		s.transport = &RetryTransport{Next: s.transport, MaxRetries: maxRetries}
	}
}

// WithLogger sets a logger for request-level debug logging.
func WithLogger(log hclog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// Returns a server handle
func NewServer(url string, opts ...Option) *Server {
	s := &Server{
		url:       strings.TrimRight(url, "/"),
		transport: &HTTPTransport{},
		log:       hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Returns new credentials you can use for server and/or database operations.
func NewCredentials(user, password string) *Credentials {
	return &Credentials{user: user, password: password}
}

// Returns a database handle
func (s *Server) Database(name string) *Database {
	return &Database{server: s, name: name}
}

// URL returns the host (including its port) of a CouchDB instance.
func (s *Server) URL() string {
	return s.url
}

// Cred returns credentials associated with a CouchDB instance.
func (s *Server) Cred() *Credentials {
	return s.cred
}

// Cred returns the credentials associated with the database. If there aren't
// any it will return the ones associated with the server.
func (db *Database) Cred() *Credentials {
	if db.cred != nil {
		return db.cred
	}
	return db.server.cred
}

func (db *Database) Server() *Server {
	return db.server
}

// Name of database
func (db *Database) Name() string {
	return db.name
}

// Any document handled by CouchDB must be identifiable
// by an ID and a Revision, be it a struct (using Doc
// as anonymous field) or a DynamicDoc.
type Identifiable interface {
	SetIDRev(id string, rev string)
	IDRev() (id string, rev string)
}

// Defines basic struct for a CouchDB document, should be added
// as an anonymous field to your custom struct.
//
// Example:
//  type MyDocStruct struct {
//   couch.Doc
//   Title string
//  }
type Doc struct {
	ID          string                    `json:"_id,omitempty"`
	Rev         string                    `json:"_rev,omitempty"`
	Attachments map[string]AttachmentMeta `json:"_attachments,omitempty"`
}

// Implements Identifiable
func (ref *Doc) SetIDRev(id string, rev string) {
	ref.ID, ref.Rev = id, rev
}

// Implements Identifiable
func (ref *Doc) IDRev() (id string, rev string) {
	id, rev = ref.ID, ref.Rev
	return
}

func (ref *Doc) attachmentMeta(name string) (AttachmentMeta, bool) {
	meta, ok := ref.Attachments[name]
	return meta, ok
}

// Type alias for map[string]interface{} representing
// a fully dynamic doc that still implements Identifiable
type DynamicDoc map[string]interface{}

// Implements Identifiable
func (m DynamicDoc) IDRev() (id string, rev string) {
	id, _ = m["_id"].(string)
	rev, _ = m["_rev"].(string)
	return
}

// Implements Identifiable
func (m DynamicDoc) SetIDRev(id string, rev string) {
	m["_id"] = id
	m["_rev"] = rev
}

func (m DynamicDoc) attachmentMeta(name string) (AttachmentMeta, bool) {
	atts, ok := m["_attachments"].(map[string]interface{})
	if !ok {
		return AttachmentMeta{}, false
	}
	raw, ok := atts[name]
	if !ok {
		return AttachmentMeta{}, false
	}
	var meta AttachmentMeta
	if err := decodeInto(raw, &meta); err != nil {
		return AttachmentMeta{}, false
	}
	return meta, true
}

// Decode converts the dynamic doc into a caller-provided type, respecting
// json field tags. It supports the same target types as json.Unmarshal.
//
//  var p Person
//  doc.Decode(&p)
func (m DynamicDoc) Decode(v interface{}) error {
	return decodeInto(map[string]interface{}(m), v)
}

// attachmentHolder is implemented by doc types that can resolve the
// metadata of a named attachment from their _attachments mapping.
type attachmentHolder interface {
	attachmentMeta(name string) (AttachmentMeta, bool)
}

// DocRef is the id and revision CouchDB reports for a written document.
type DocRef struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// decodeInto maps decoded JSON values onto a target type, honoring json
// tags. Weak typing keeps JSON numbers (float64) assignable to int fields,
// squashing flattens anonymous fields the same way encoding/json does.
func decodeInto(in interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Squash:           true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
