// Package inspect implements `logsrd inspect`, an offline reader for hot,
// cold and per-log files.
//
// Usage
//
//	logsrd inspect ./data/global-hot.log
//	logsrd inspect --filter "type == 'json' && json.level == 'error'" ./data/global-cold.log
//	logsrd inspect --filter "command == 'begin-compact-cold'" ./data/global-cold.log
//	logsrd inspect --verify --checkpoints ./data/logs/ab/cd/q83v.log
//
// Filter variables: offset, length, kind, log_id, num, type, command, size,
// text and json. Checkpoints only carry offset, length and kind. Compaction
// markers report log_id "engine".
package inspect
