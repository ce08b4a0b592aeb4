// Package output renders log entries for the command-line tools.
package output

import (
	"encoding/base64"
	"encoding/json"
	"unicode/utf8"

	"github.com/rzbill/logsrd/internal/entry"
	"github.com/rzbill/logsrd/pkg/id"
)

// Payload returns a map with the payload type and one of payload_json,
// payload_text, or payload_b64. Commands carry their name and decoded value.
func Payload(p entry.Payload) map[string]any {
	out := map[string]any{"type": p.Type().String()}
	switch v := p.(type) {
	case *entry.JSON:
		var doc any
		if json.Unmarshal(v.Data(), &doc) == nil {
			out["payload_json"] = doc
		} else {
			out["payload_text"] = string(v.Data())
		}
	case *entry.Binary:
		putBytes(out, v.Data())
	case *entry.Command:
		out["command"] = v.Name().String()
		val, err := v.DecodeValue()
		if err != nil {
			out["error"] = err.Error()
			putBytes(out, v.Value())
			break
		}
		switch c := val.(type) {
		case entry.ConfigValue:
			var doc any
			if json.Unmarshal(c.JSON, &doc) == nil {
				out["config"] = doc
			} else {
				putBytes(out, c.JSON)
			}
		case entry.CountValue:
			out["count"] = c.Count
		case entry.BeginCompactColdValue:
			out["cold_length"] = c.ColdLength
			out["total"] = c.Total
		case entry.FinishCompactColdValue:
			out["cold_length"] = c.ColdLength
		}
	}
	return out
}

// Frame renders a frame with its entry number and, for global frames, its log.
func Frame(f entry.Frame) map[string]any {
	out := Payload(f.Inner())
	out["num"] = f.Num()
	if g, ok := f.(*entry.GlobalLogEntry); ok {
		out["log_id"] = logName(g.LogID)
	}
	return out
}

func logName(logID id.LogID) string {
	if logID.IsZero() {
		return "engine"
	}
	return logID.String()
}

func putBytes(out map[string]any, b []byte) {
	// Text when valid UTF-8, base64 otherwise.
	if utf8.Valid(b) {
		out["payload_text"] = string(b)
		return
	}
	out["payload_b64"] = base64.StdEncoding.EncodeToString(b)
}
