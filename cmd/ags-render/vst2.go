//go:build vst2

package main

import (
	"github.com/gsequencer/ags/engine"
	"github.com/gsequencer/ags/vst2"
)

func init() {
	Loaders[engine.FormatVST2] = vst2.NewLoader()
}
