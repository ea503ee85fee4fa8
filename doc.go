// Package couch implements a client for a CouchDB database, usable in two
// modes: blocking calls that return once the database has answered, and
// asynchronous calls that return a Future resolved later.
//
// It covers document, attachment, bulk and view operations, database
// lifecycle management, replication and conflict handling.
//
//
// Getting started:
//
//  cred := couch.NewCredentials("user_notsosafe", "password_withoutssl")
//  s := couch.NewServer("http://127.0.0.1:5984", couch.WithCredentials(cred))
//  db := s.Database("mydatabase")
//
//  ctx := context.Background()
//  if !db.Exists(ctx) {
//    db.Create(ctx)
//  }
//
// Basics
//
// Every document in CouchDB is identified by a document id and a revision
// id. Two types already implement the interface behind this, called
// Identifiable: Doc and DynamicDoc. Doc can be used as an anonymous field
// in your own struct. DynamicDoc is a type alias for
// map[string]interface{}, use it when your documents have no implicit
// schema at all. To make code examples easier to follow, there will be no
// explicit error handling in these examples even though it's fully
// supported throughout the API.
//
//  type Person struct {
//    couch.Doc
//    Name string
//  }
//
// SaveDoc will create a new document if it doesn't have an id yet:
//
//  p := &Person{Name: "Peter"}
//  db.SaveDoc(ctx, p)
//
// After the operation the final id and revision id are written back to p.
// That's why you can now just edit p and call SaveDoc again, which will
// save the same document under a new revision.
//
//  p.Name = "Anna"
//  db.SaveDoc(ctx, p)
//
// After this edit, p contains the latest revision id. Note that it is
// possible that this second edit fails because someone else edited and
// saved the same document in the meantime. You will be notified of this in
// form of a Conflict error, check with couch.IsConflict(err). You should
// then first fetch the latest revision to see the changes of this lost
// update:
//
//  doc, _ := db.GetDoc(ctx, p.ID)
//  doc.Decode(p)
//
// Fetching several documents at once:
//
//  docs, _ := db.GetDocs(ctx, []string{id1, id2})
//
// The documents come back in the order of the requested ids, no matter
// which order the database answered in. If any requested id is missing,
// the whole call fails with a NotFound error.
//
// Bulk saves and deletes report one outcome per input document, again in
// input order:
//
//  result, _ := db.SaveDocs(ctx, docs, false)
//  for _, item := range result {
//    if err := item.Err(); err != nil { ... }
//  }
//
// Async mode
//
// Every operation is also available without blocking the caller. An async
// operation returns a Future that resolves exactly once, with either the
// value or the classified error the blocking call would have produced:
//
//  f := db.Async().GetDoc(ctx, "some_id")
//  f.Then(func(doc couch.DynamicDoc, err error) { ... })
//
// or, future-style:
//
//  doc, err := f.Wait()
//
// Two async operations issued back-to-back complete in no guaranteed
// order. If order matters, issue the second from the first's callback.
//
// Views
//
// Views are queried with a ViewQuery value holding one optional field per
// recognized parameter. The client takes care of the wire encoding: key
// parameters are JSON-encoded, flags render as literal tokens, and a list
// of keys is sent in the body of a POST.
//
//  limit := 10
//  result, _ := db.View(ctx, "design", "by_name", &couch.ViewQuery{
//    StartKey: "m",
//    Limit:    &limit,
//  })
//
// Error handling
//
// Errors returned by CouchDB are classified into a closed set of kinds
// (NotFound, Conflict, PreconditionFailed, ...), carried by *couch.Error
// together with the raw status, headers and body. Use the Is* helpers or
// ErrorType to branch on them. A failure to reach the database at all is a
// *couch.TransportError and never reported as a database error.
package couch
