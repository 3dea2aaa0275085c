// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/query"
)

func writeRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"a.py": "import b\n\n\ndef main():\n    b.helper()\n",
		"b.py": "def helper():\n    return 1\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	return root
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "--log-level", "error"))
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestBuildCommand(t *testing.T) {
	root := writeRepo(t)

	out, err := executeCommand(t, "build", "--root", root)

	require.NoError(t, err, out)
	assert.Contains(t, out, "Files:     2 processed, 0 failed")
	assert.Contains(t, out, root)
}

func TestQueryImpactCommand(t *testing.T) {
	root := writeRepo(t)

	out, err := executeCommand(t, "query", "impact", "b.py", "--depth", "2", "--root", root)

	require.NoError(t, err, out)
	var result query.ImpactResult
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	assert.Equal(t, []string{"a.py"}, result.DirectlyAffected)
	assert.Equal(t, 1, result.AffectedCount)
}

func TestQueryCallChainCommand(t *testing.T) {
	root := writeRepo(t)

	out, err := executeCommand(t, "query", "callchain", "main", "helper", "--root", root)

	require.NoError(t, err, out)
	var result query.CallChainResult
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	require.Len(t, result.Paths, 1)
	assert.Equal(t, []string{"a.py::main", "b.py::helper"}, result.Paths[0].Nodes)
}

func TestQueryCommand_UnknownEntity(t *testing.T) {
	root := writeRepo(t)

	_, err := executeCommand(t, "query", "dependencies", "nothing_here", "--root", root)

	assert.Error(t, err)
}

func TestExportImportCommands(t *testing.T) {
	root := writeRepo(t)
	doc := filepath.Join(t.TempDir(), "graph.json")

	out, err := executeCommand(t, "export", "--out", doc, "--root", root)
	require.NoError(t, err, out)

	data, err := os.ReadFile(doc)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	out, err = executeCommand(t, "import", doc, "--name", "base", "--in-memory", "--root", root)
	require.NoError(t, err, out)
	assert.Contains(t, out, `Imported "base"`)
	assert.Contains(t, out, "2 files")
}

func TestImportCommand_RejectsGarbage(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0o644))

	_, err := executeCommand(t, "import", bad, "--in-memory")

	assert.Error(t, err)
}
