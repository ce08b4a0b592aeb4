// Package id provides the 128-bit log identifier and the operation sequence
// generator used by the storage engine.
//
// # LogID
//
// A LogID is 16 random bytes. Its canonical string form is unpadded URL-safe
// base64 (22 characters), which is also the file name of the log's private
// file. The first two bytes select the shard directories so that no single
// directory holds every log:
//
//	logs/<hex b0>/<hex b1>/<base64url>.log
//
// The zero LogID is reserved for engine commands written into global logs.
//
// # Sequence
//
// A Sequence hands out strictly increasing operation numbers. Queues use them
// to merge work pulled from several per-log queues back into submission order.
// A Sequence is injected where needed; there is no package-level counter.
//
// Usage
//
//	lid := id.NewLogID()
//	s := lid.String()            // "q1w2e3..." base64url
//	d0, d1 := lid.ShardDirs()    // "ab", "cd"
//	parsed, _ := id.ParseLogID(s)
//
//	seq := id.NewSequence()
//	n := seq.Next()
package id
