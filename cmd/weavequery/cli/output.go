package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/theory/jsonpath"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// printer writes command results in the selected format.
type printer struct {
	format string
	path   *jsonpath.Path // nil without --select
	w      io.Writer
}

func (a *app) printer(cmd *cobra.Command) (*printer, error) {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "json", "yaml", "msgpack":
	default:
		return nil, fmt.Errorf("unknown output format %q (want json, yaml or msgpack)", format)
	}
	p := &printer{format: format, w: a.stdout}
	if sel, _ := cmd.Flags().GetString("select"); sel != "" {
		path, err := jsonpath.Parse(sel)
		if err != nil {
			return nil, fmt.Errorf("--select: %w", err)
		}
		p.path = path
	}
	return p, nil
}

// print renders v. Values go through their JSON form first so every
// format sees the same field names.
func (p *printer) print(v any) error {
	g, err := generic(v)
	if err != nil {
		return err
	}
	if p.path != nil {
		g = []any(p.path.Select(g))
	}

	switch p.format {
	case "yaml":
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(g); err != nil {
			return err
		}
		return enc.Close()
	case "msgpack":
		return msgpack.NewEncoder(p.w).Encode(g)
	default:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(g)
	}
}

func generic(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var g any
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, err
	}
	return g, nil
}

// readInput reads the named file, or stdin for "" and "-".
func (a *app) readInput(name string) ([]byte, error) {
	if name == "" || name == "-" {
		return io.ReadAll(a.stdin)
	}
	return os.ReadFile(name)
}

// decodeInput decodes JSON, or YAML when the document does not start like
// JSON. YAML goes through its JSON form so json tags and custom
// unmarshalers apply.
func decodeInput(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty input")
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return json.Unmarshal(trimmed, v)
	}
	var raw any
	if err := yaml.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("parse input: %w", err)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("parse input: %w", err)
	}
	return json.Unmarshal(b, v)
}
