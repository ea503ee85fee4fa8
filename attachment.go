package couch

import (
	"context"
	"net/http"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Attachment is a named binary blob associated with a document revision.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Validate checks that the attachment carries everything needed to save it.
func (a *Attachment) Validate() error {
	err := validation.ValidateStruct(a,
		validation.Field(&a.Name, validation.Required),
		validation.Field(&a.ContentType, validation.Required),
	)
	if err != nil {
		return badRequestf("invalid attachment: %v", err)
	}
	return nil
}

// AttachmentMeta is the metadata CouchDB keeps about a saved attachment in
// the document's _attachments mapping.
type AttachmentMeta struct {
	ContentType string `json:"content_type"`
	Length      int64  `json:"length"`
	Digest      string `json:"digest,omitempty"`
	RevPos      int    `json:"revpos,omitempty"`
	Stub        bool   `json:"stub,omitempty"`
}

// GetAttachment fetches the named attachment of doc as raw bytes. If
// mimetype is empty it is resolved from the doc's _attachments metadata;
// failing that, the call fails with a BadRequest error before any request
// is made. The doc must carry its id.
func (db *Database) GetAttachment(ctx context.Context, doc Identifiable, name, mimetype string) (*Attachment, error) {
	id, _ := doc.IDRev()
	if id == "" {
		return nil, badRequestf("missing id in doc")
	}
	if mimetype == "" {
		holder, ok := doc.(attachmentHolder)
		if !ok {
			return nil, badRequestf("no attachment metadata in doc, cannot resolve content type")
		}
		meta, ok := holder.attachmentMeta(name)
		if !ok {
			return nil, badRequestf("document has no attachment named %q", name)
		}
		mimetype = meta.ContentType
	}
	accept := func(h http.Header) {
		h.Set("Accept", mimetype)
	}
	resp, err := db.do(ctx, http.MethodGet, docPath(db.name, id, name), nil, accept)
	if err != nil {
		return nil, err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mimetype
	}
	return &Attachment{Name: name, ContentType: contentType, Data: resp.Body}, nil
}

// SaveAttachment saves an attachment to the given doc. The doc must carry
// its id, and its current revision if the document already exists in the
// database. The doc's new revision is written back and also returned.
func (db *Database) SaveAttachment(ctx context.Context, doc Identifiable, att *Attachment) (DocRef, error) {
	if err := att.Validate(); err != nil {
		return DocRef{}, err
	}
	id, rev := doc.IDRev()
	if id == "" {
		return DocRef{}, badRequestf("missing id in doc")
	}
	path := docPath(db.name, id, att.Name)
	if rev != "" {
		path += "?rev=" + url.QueryEscape(rev)
	}
	contentType := func(h http.Header) {
		h.Set("Content-Type", att.ContentType)
	}
	resp, err := db.do(ctx, http.MethodPut, path, att.Data, contentType)
	if err != nil {
		return DocRef{}, err
	}
	var ref DocRef
	if err := decodeJSON(resp.Body, &ref); err != nil {
		return DocRef{}, err
	}
	doc.SetIDRev(ref.ID, ref.Rev)
	return ref, nil
}

// DeleteAttachment removes the named attachment from the given doc. The doc
// must carry id and current revision, the new revision is written back.
func (db *Database) DeleteAttachment(ctx context.Context, doc Identifiable, name string) (DocRef, error) {
	id, rev := doc.IDRev()
	if id == "" || rev == "" {
		return DocRef{}, badRequestf("missing id or revision information in doc")
	}
	path := docPath(db.name, id, name) + "?rev=" + url.QueryEscape(rev)
	var ref DocRef
	if err := db.doJSON(ctx, http.MethodDelete, path, nil, &ref); err != nil {
		return DocRef{}, err
	}
	doc.SetIDRev(ref.ID, ref.Rev)
	return ref, nil
}
