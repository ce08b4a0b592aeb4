package inspect

import (
	"encoding/json"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/logsrd/internal/entry"
	"github.com/rzbill/logsrd/internal/persist"
)

// celFilter wraps a compiled CEL program evaluated against each scanned
// item. When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("offset", cel.IntType),
		cel.Variable("length", cel.IntType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("log_id", cel.StringType),
		cel.Variable("num", cel.IntType),
		cel.Variable("type", cel.StringType),
		cel.Variable("command", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON payload for field filtering
		cel.Variable("json", cel.DynType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against it. Checkpoints expose only
// offset, length and kind.
func (f celFilter) Eval(it persist.Item) bool {
	if !f.enabled {
		return true
	}
	vars := map[string]any{
		"offset":  it.Offset,
		"length":  int64(it.Length),
		"kind":    it.Entry.Type().String(),
		"log_id":  "",
		"num":     int64(-1),
		"type":    "",
		"command": "",
		"size":    int64(0),
		"text":    "",
		"json":    nil,
	}
	if fr, ok := it.Entry.(entry.Frame); ok {
		p := fr.Inner()
		vars["num"] = int64(fr.Num())
		vars["type"] = p.Type().String()
		vars["size"] = int64(p.Len() - 1)
		if g, ok := fr.(*entry.GlobalLogEntry); ok && !g.LogID.IsZero() {
			vars["log_id"] = g.LogID.String()
		} else if ok {
			vars["log_id"] = "engine"
		}
		switch v := p.(type) {
		case *entry.JSON:
			var doc any
			_ = json.Unmarshal(v.Data(), &doc)
			vars["json"] = doc
			vars["text"] = string(v.Data())
		case *entry.Binary:
			vars["text"] = string(v.Data())
		case *entry.Command:
			vars["command"] = v.Name().String()
			vars["text"] = string(v.Value())
		}
	}
	out, _, err := f.prog.Eval(vars)
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
