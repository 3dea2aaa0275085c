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
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

const tableName = "([\\w.\"`\\[\\]]+)"

var (
	insertRe = regexp.MustCompile(`(?is)\binsert\s+(?:or\s+\w+\s+)?into\s+` + tableName)
	updateRe = regexp.MustCompile(`(?is)\bupdate\s+` + tableName + `\s+set\b`)
	deleteRe = regexp.MustCompile(`(?is)\bdelete\s+from\s+` + tableName)
	selectRe = regexp.MustCompile(`(?is)\bselect\b`)
	readRe   = regexp.MustCompile(`(?is)\b(?:from|join)\s+` + tableName)
	createRe = regexp.MustCompile(`(?is)\bcreate\s+(?:temp(?:orary)?\s+)?table\s+(?:if\s+not\s+exists\s+)?` + tableName + `\s*\(`)

	lineCommentRe  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// sqlKeywords are words the table pattern can capture that are never tables.
var sqlKeywords = map[string]bool{
	"select": true, "where": true, "set": true, "values": true, "into": true,
	"from": true, "join": true, "on": true, "as": true, "lateral": true,
	"only": true, "table": true, "dual": true,
}

// columnConstraints start table-level clauses inside CREATE TABLE.
var columnConstraints = map[string]bool{
	"primary": true, "foreign": true, "constraint": true, "unique": true,
	"check": true, "key": true, "index": true, "exclude": true,
}

// sqlRef is one table touched by a SQL fragment.
type sqlRef struct {
	table string
	ops   graph.TableOps
	reads bool
}

// scanSQL finds the tables a SQL fragment writes and reads, sorted by
// table name.
//
// Writes come from INSERT INTO, UPDATE ... SET, and DELETE FROM. Reads
// come from FROM and JOIN clauses, only when the fragment contains
// SELECT.
func scanSQL(text string) []sqlRef {
	refs := make(map[string]*sqlRef)
	get := func(raw string) *sqlRef {
		name := normalizeTable(raw)
		if name == "" {
			return nil
		}
		r, ok := refs[name]
		if !ok {
			r = &sqlRef{table: name}
			refs[name] = r
		}
		return r
	}

	for _, m := range insertRe.FindAllStringSubmatch(text, -1) {
		if r := get(m[1]); r != nil {
			r.ops |= graph.TableOpInsert
		}
	}
	for _, m := range updateRe.FindAllStringSubmatch(text, -1) {
		if r := get(m[1]); r != nil {
			r.ops |= graph.TableOpUpdate
		}
	}
	for _, m := range deleteRe.FindAllStringSubmatch(text, -1) {
		if r := get(m[1]); r != nil {
			r.ops |= graph.TableOpDelete
		}
	}

	if selectRe.MatchString(text) {
		// DELETE FROM targets are writes, not reads.
		masked := deleteRe.ReplaceAllStringFunc(text, func(s string) string {
			return strings.Repeat(" ", len(s))
		})
		for _, m := range readRe.FindAllStringSubmatch(masked, -1) {
			if r := get(m[1]); r != nil {
				r.reads = true
			}
		}
	}

	out := make([]sqlRef, 0, len(refs))
	for _, r := range refs {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b sqlRef) int { return strings.Compare(a.table, b.table) })
	return out
}

// normalizeTable strips identifier quoting and lowercases a table name.
// It returns "" for captures that are keywords or not identifiers.
func normalizeTable(raw string) string {
	parts := strings.Split(raw, ".")
	for i, p := range parts {
		p = strings.Trim(p, "\"`[]")
		if p == "" {
			return ""
		}
		parts[i] = strings.ToLower(p)
	}
	name := strings.Join(parts, ".")
	if sqlKeywords[name] || !isIdentStart(name[0]) {
		return ""
	}
	return name
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z')
}

// SQLExtractor handles .sql files: CREATE TABLE statements define Table
// nodes, and other statements become edges from the File node.
type SQLExtractor struct{}

// NewSQLExtractor creates a SQLExtractor.
func NewSQLExtractor() *SQLExtractor {
	return &SQLExtractor{}
}

// Language returns "sql".
func (x *SQLExtractor) Language() string { return "sql" }

// Extensions returns []string{".sql"}.
func (x *SQLExtractor) Extensions() []string { return []string{".sql"} }

// Extract returns the tables defined in src and the tables its
// statements read and write.
func (x *SQLExtractor) Extract(ctx context.Context, src Source) (*graph.FileFacts, error) {
	if err := graph.CheckContext(ctx); err != nil {
		return nil, err
	}
	b := newFactsBuilder(src.Path)
	text := stripSQLComments(string(src.Content))

	for _, loc := range createRe.FindAllStringSubmatchIndex(text, -1) {
		name := normalizeTable(text[loc[2]:loc[3]])
		if name == "" {
			continue
		}
		line := strings.Count(text[:loc[0]], "\n") + 1
		b.table(name, line, tableColumns(text, loc[1]-1))
	}

	// CREATE TABLE bodies carry no reads or writes.
	b.sqlRefs(fileRef(src.Path), createRe.ReplaceAllStringFunc(text, func(s string) string {
		return strings.Repeat(" ", len(s))
	}))
	return b.facts, nil
}

// stripSQLComments blanks comments while keeping newlines, so byte
// offsets and line numbers still match the original text.
func stripSQLComments(text string) string {
	blank := func(s string) string {
		return strings.Map(func(r rune) rune {
			if r == '\n' {
				return r
			}
			return ' '
		}, s)
	}
	text = blockCommentRe.ReplaceAllStringFunc(text, blank)
	return lineCommentRe.ReplaceAllStringFunc(text, blank)
}

// tableColumns returns the column names declared in the parenthesized
// list that opens at text[open].
func tableColumns(text string, open int) []string {
	depth := 0
	end := -1
	for i := open; i < len(text) && end < 0; i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				end = i
			}
		}
	}
	if end < 0 {
		return nil
	}

	var columns []string
	body := text[open+1 : end]
	start := 0
	depth = 0
	for i := 0; i <= len(body); i++ {
		if i < len(body) {
			switch body[i] {
			case '(':
				depth++
				continue
			case ')':
				depth--
				continue
			case ',':
				if depth != 0 {
					continue
				}
			default:
				continue
			}
		}
		fields := strings.Fields(body[start:i])
		start = i + 1
		if len(fields) == 0 {
			continue
		}
		col := strings.Trim(fields[0], "\"`[]")
		if col == "" || columnConstraints[strings.ToLower(col)] {
			continue
		}
		columns = append(columns, col)
	}
	return columns
}
