// Package docsync exposes the Go APIs behind a document synchronisation
// service. Clients POST a document's text and its binary attachments; the
// server writes them into an object store under a per-document lock and
// serves the stored tree back read-only.
//
// # Running a server
//
// The server binds `Config.Listen` (default ":9000", or ":$PORT") and stores
// documents in `Config.Store` (default "disk://./storage").
//
//	cfg := docsync.Config{
//	    Store:      "disk:///var/lib/docsync",
//	    EditorDist: "/srv/editor/dist",
//	}
//	srv, err := docsync.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("docsync: %v", err)
//	    }
//	}()
//	defer srv.Close()
//
// Tests and embedders usually prefer StartServer, which returns once the
// listener accepts connections:
//
//	srv, stop, err := docsync.StartServer(ctx, docsync.Config{Store: "mem://", Listen: "127.0.0.1:0"})
//	if err != nil { log.Fatal(err) }
//	defer stop(context.Background())
//
// # Syncing a document
//
// POST /sync takes a JSON body:
//
//	{
//	  "documentId": "course/week1/README.md",
//	  "fileContent": "# Week 1\n![diagram](diagram.png)",
//	  "blobs": {
//	    "diagram.png": "iVBORw0KGgo...",
//	    "notes.pdf": {"content": "JVBERi0xLjQ..."}
//	  }
//	}
//
// In the default "path" mode the identifier's last segment is the file name
// and the rest is the directory. Blobs are base64 and may be given as a bare
// string or wrapped in {"content": ...}. The response echoes the stored
// content:
//
//	{"success": true, "fileContent": "# Week 1\n![diagram](diagram.png)"}
//
// A second sync of the same document while the first is still writing gets
// 423 Locked with `Retry-After: 1`; nothing is written for the rejected
// request. Locks are process local and cleared when the server starts.
//
// With `Config.RewriteLinks`, every "(<blob>)" in the content is replaced by
// the blob's public URL, "<BaseURL>/static/<dir>/<blob>", before the content is
// stored.
//
// # Stores
//
//   - disk://<path> or a bare path: plain files, browsable on the host.
//   - mem://: in-memory, for tests.
//   - s3://host[:port]/bucket[/prefix]: S3-compatible stores through minio-go.
//     Credentials come from DOCSYNC_S3_ACCESS_KEY_ID/DOCSYNC_S3_SECRET_ACCESS_KEY
//     or the standard AWS/MinIO environment.
//   - aws://bucket[/prefix]?region=...: AWS S3 through aws-sdk-go-v2.
//   - azure://account/container[/prefix]: Azure Blob Storage.
//
// # Telemetry
//
// `Config.MetricsListen` exposes Prometheus metrics at /metrics and
// `Config.OTLPEndpoint` exports traces over OTLP (grpc by default, http when
// the endpoint uses an http:// or https:// scheme). Logs are structured pslog
// records tagged with a `sys` subsystem field.
package docsync
