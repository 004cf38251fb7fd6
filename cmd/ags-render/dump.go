package main

import (
	_ "embed"
	"fmt"
	"io"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/gsequencer/ags/engine"
)

//go:embed dump.tmpl
var dumpTemplate string

var dumpTmpl = template.Must(template.New("dump").Funcs(sprig.TxtFuncMap()).Parse(dumpTemplate))

func dumpGraph(w io.Writer, s engine.Snapshot) error {
	if err := dumpTmpl.Execute(w, s); err != nil {
		return fmt.Errorf("could not dump the recall graph: %w", err)
	}
	return nil
}
