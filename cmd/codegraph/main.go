// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command codegraph builds and queries a knowledge graph of a codebase.
//
// Usage:
//
//	codegraph serve --root /path/to/repo
//	codegraph build --root /path/to/repo
//	codegraph query impact pkg/db.py --depth 3
//	codegraph query callchain main save_user
//	codegraph export --out graph.json
//	codegraph import graph.json --name base
//
// Example requests against a running server:
//
//	# Build the graph
//	curl -X POST http://localhost:12217/v1/codegraph/build
//
//	# Files affected by a change
//	curl -X POST http://localhost:12217/v1/codegraph/impact \
//	  -H "Content-Type: application/json" \
//	  -d '{"files": ["pkg/db.py"], "max_depth": 3}'
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
