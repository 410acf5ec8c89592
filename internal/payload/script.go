package payload

import "github.com/roach88/histsync/internal/record"

// Script is a saved, named shell snippet.
type Script struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Shebang     string   `json:"shebang,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Body        string   `json:"body"`
}

// ScriptCreate adds a script to the catalog.
type ScriptCreate struct {
	Script Script
}

// ScriptUpdate replaces a script's contents.
type ScriptUpdate struct {
	Script Script
}

// ScriptDelete removes a script.
type ScriptDelete struct {
	ID string
}

func (ScriptCreate) Tag() record.Tag { return record.TagScript }
func (ScriptUpdate) Tag() record.Tag { return record.TagScript }
func (ScriptDelete) Tag() record.Tag { return record.TagScript }
func (ScriptCreate) operation()      {}
func (ScriptUpdate) operation()      {}
func (ScriptDelete) operation()      {}

type scriptV1 struct {
	Op     string  `json:"op"`
	Script *Script `json:"script,omitempty"`
	ID     string  `json:"id,omitempty"`
}

func encodeScript(op Operation) (scriptV1, error) {
	switch o := op.(type) {
	case ScriptCreate:
		return scriptWithBody("create", o.Script)
	case ScriptUpdate:
		return scriptWithBody("update", o.Script)
	case ScriptDelete:
		if o.ID == "" {
			return scriptV1{}, corrupt(record.TagScript, "delete without id")
		}
		return scriptV1{Op: "delete", ID: o.ID}, nil
	}
	panic("unreachable")
}

func scriptWithBody(op string, s Script) (scriptV1, error) {
	if s.ID == "" {
		return scriptV1{}, corrupt(record.TagScript, "%s without id", op)
	}
	return scriptV1{Op: op, Script: &s}, nil
}

func decodeScriptV1(data []byte) (Operation, error) {
	var w scriptV1
	if err := unmarshal(record.TagScript, data, &w); err != nil {
		return nil, err
	}
	switch w.Op {
	case "create", "update":
		if w.Script == nil || w.Script.ID == "" {
			return nil, corrupt(record.TagScript, "%s without script", w.Op)
		}
		if w.Op == "create" {
			return ScriptCreate{Script: *w.Script}, nil
		}
		return ScriptUpdate{Script: *w.Script}, nil
	case "delete":
		if w.ID == "" {
			return nil, corrupt(record.TagScript, "delete without id")
		}
		return ScriptDelete{ID: w.ID}, nil
	default:
		return nil, corrupt(record.TagScript, "unknown op %q", w.Op)
	}
}
