// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command spotmanager scales out a GPU fleet's spot or on-demand
// tier. See spotmanager -help.
package main

import (
	"os"

	"github.com/grailbio/spotmanager/config"
	"github.com/grailbio/spotmanager/tool"
)

// version is set by the linker:
//
//	go build -ldflags "-X main.version=$(date +%Y%m%d)"
var version string

func main() {
	cmd := &tool.Cmd{
		DefaultConfigFile: config.DefaultFile,
		Version:           version,
	}
	cmd.Flags().Parse(os.Args[1:])
	cmd.Main()
}
