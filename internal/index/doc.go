// Package index holds the in-memory offset indexes rebuilt from log files.
//
// A LogIndex describes one log's data inside one file: data entries by entry
// number, command entries by offset, and the most recent config command.
// A GlobalIndex keys LogIndex sections by LogID for the shared hot and cold
// files. Entry numbers inside a section are contiguous and offsets only grow,
// so lookups are arithmetic and appends never re-sort.
package index
