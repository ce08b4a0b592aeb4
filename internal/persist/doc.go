// Package persist implements the append-only log file shared by the hot,
// cold and per-log files.
//
// Every CheckpointInterval bytes the file carries a checkpoint. An entry that
// would cross a boundary is split around the checkpoint, and the checkpoint
// records how far back the split entry started and how long it is. A scan can
// therefore start at any boundary and stream the file one interval at a time.
//
// Writes are batched through an ioqueue.MultiQueue: at most one batch per file
// is in flight, and each batch becomes a single vectored write followed by a
// data sync. A short write truncates the file back to its last good length,
// copying the discarded bytes to <file>.truncated.<unixnano> first. If that
// truncation fails the log is marked failed and refuses later writes.
//
// Per-log files are written in migration blocks (BeginWrite, items, EndWrite).
// Items of a block without its EndWrite are not indexed on scan.
package persist
