// Package storage keeps one JSON document per job: its parameters, state,
// per-size results and any error. The coordinator writes a document when a
// job is accepted and rewrites it when the job ends; GET /jobs/<id> serves
// it back.
//
// # Keys
//
// Documents live under "jobs/<id>". Key builds the full key; the Store
// methods take the bare job ID.
//
// # Concurrency
//
// MemoryStore guards its map with a sync.RWMutex. Documents are stored
// encoded, so a Get never aliases memory held by a caller of Put and
// concurrent readers see whole documents only.
//
// # Usage
//
//	store := storage.NewMemoryStore()
//	store.Put(storage.Document{JobID: "job-1", State: storage.StateRunning})
//	doc, err := store.Get("job-1")
//	if errors.Is(err, storage.ErrNotFound) {
//		// unknown job
//	}
package storage
