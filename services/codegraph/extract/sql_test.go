// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

func TestScanSQL(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []sqlRef
	}{
		{
			name: "insert",
			text: "INSERT INTO users (name) VALUES (?)",
			want: []sqlRef{{table: "users", ops: graph.TableOpInsert}},
		},
		{
			name: "update requires set",
			text: "UPDATE orders SET total = 0",
			want: []sqlRef{{table: "orders", ops: graph.TableOpUpdate}},
		},
		{
			name: "update without set is prose",
			text: "please update docs from time to time",
			want: []sqlRef{},
		},
		{
			name: "delete is not a read",
			text: "DELETE FROM sessions WHERE id IN (SELECT id FROM expired)",
			want: []sqlRef{
				{table: "expired", reads: true},
				{table: "sessions", ops: graph.TableOpDelete},
			},
		},
		{
			name: "select with join and quoting",
			text: `select * from "Users" u join public.accounts a on a.id = u.id`,
			want: []sqlRef{
				{table: "public.accounts", reads: true},
				{table: "users", reads: true},
			},
		},
		{
			name: "from without select is ignored",
			text: "loaded from cache",
			want: []sqlRef{},
		},
		{
			name: "combined operations",
			text: "INSERT INTO log VALUES (1); DELETE FROM log",
			want: []sqlRef{{table: "log", ops: graph.TableOpInsert | graph.TableOpDelete}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scanSQL(tt.text))
		})
	}
}

func TestSQLExtractor_Tables(t *testing.T) {
	root := writeTree(t, map[string]string{
		"schema.sql": `-- users of the system
CREATE TABLE users (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    PRIMARY KEY (id)
);

/* accounts */
CREATE TABLE IF NOT EXISTS accounts (id INT, owner INT);

INSERT INTO users (id, name) VALUES (1, 'root');
`,
	})
	reg := newTestRegistry(root)
	facts := extractFile(t, reg, "schema.sql")

	assert.Equal(t, []string{"accounts", "users"}, names(facts, graph.NodeKindTable))

	users := findNode(facts, graph.NodeKindTable, "users")
	require.NotNil(t, users)
	assert.Equal(t, 2, users.Table.Line)
	assert.Equal(t, []string{"id", "name"}, users.Table.Columns)
	assert.Equal(t, "schema.sql", users.Table.File)

	accounts := findNode(facts, graph.NodeKindTable, "accounts")
	require.NotNil(t, accounts)
	assert.Equal(t, []string{"id", "owner"}, accounts.Table.Columns)

	mod, ok := findEdge(facts, fileRef("schema.sql"), tableRef("users"), graph.EdgeKindModifies)
	require.True(t, ok)
	assert.Equal(t, graph.TableOpInsert, mod.Operations)
	assert.Len(t, facts.Edges, 1)

	file := findNode(facts, graph.NodeKindFile, "schema.sql")
	require.NotNil(t, file)
	assert.Equal(t, "sql", file.File.Language)
}
