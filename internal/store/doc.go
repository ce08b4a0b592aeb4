// Package store routes log operations across the engine's files.
//
// Appends land in the global hot log until a log lives only in its own file;
// from then on they go to that file directly. Compaction freezes the hot
// log as global-hot.log.old, installs a fresh hot log and drains the frozen
// one: logs that have accumulated a page of data move into their own file
// under logs/, smaller ones move into the global cold log. When the bytes held
// by the global logs stay above the memory threshold, the least recently
// written cold logs are promoted to their own files as well.
//
// Reads consult, in order, a log's own file, the cold log, the frozen hot log
// and the hot log, taking each entry from the first file that holds it.
//
// Usage
//
//	s, err := store.Open(ctx, store.Options{DataDir: dir})
//	if err != nil { /* handle */ }
//	defer s.Close()
//
//	logID := id.NewLogID()
//	_ = s.Create(ctx, logID, []byte(`{"type":"json"}`))
//	p, _ := entry.NewJSON([]byte(`{"hello":"world"}`))
//	f, _ := s.Append(ctx, logID, p)
//	head, _ := s.ReadHead(ctx, logID) // head.Num() == f.Num() == 0
package store
