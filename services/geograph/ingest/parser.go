// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/geograph/services/geograph/graph"
)

// smallLineTokens is the destination count below which duplicates are
// found by linear scan instead of the parser's set.
const smallLineTokens = 16

// LineResult is the outcome of parsing one adjacency line.
type LineResult struct {
	// Line is the 1-based line number.
	Line int

	// Src is the source node. Meaningless when Skip is SkipSourceOutOfRange.
	Src graph.NodeID

	// Dsts holds each accepted destination once, in first-occurrence order.
	Dsts []graph.NodeID

	// Skip is SkipNone unless the line contributed no edges.
	Skip SkipReason

	// Dropped token counts by cause.
	Malformed  int
	OutOfRange int
	SelfLoops  int
	Duplicates int
}

// Parser converts adjacency lines into destination lists.
//
// Thread Safety: not safe for concurrent use. Create one per goroutine.
type Parser struct {
	numNodes  uint64
	delimiter string
	seen      map[graph.NodeID]struct{}
}

// NewParser creates a parser for a graph of numNodes nodes.
func NewParser(numNodes int, delimiter string) *Parser {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	return &Parser{
		numNodes:  uint64(numNodes),
		delimiter: delimiter,
		seen:      make(map[graph.NodeID]struct{}),
	}
}

// ParseAdjacencyLine parses a single line with a throwaway Parser.
func ParseAdjacencyLine(lineNumber int, line string, numNodes int, delimiter string) LineResult {
	return NewParser(numNodes, delimiter).Parse(lineNumber, line)
}

// Parse converts one adjacency line.
//
// Description:
//
//	Line k lists the 1-based destinations of node k-1. A line whose
//	source is not a node, or that is blank, yields no edges. Otherwise
//	every token is trimmed and kept only if it is a run of ASCII digits
//	naming a node other than the source. Repeated destinations collapse.
//	A bad token never affects the rest of the line.
//
// Inputs:
//
//	lineNumber - 1-based position of the line in the source.
//	line - The line without its terminator.
//
// Outputs:
//
//	LineResult - Never an error; dropped tokens are counted.
func (p *Parser) Parse(lineNumber int, line string) LineResult {
	res := LineResult{Line: lineNumber}

	if lineNumber < 1 || uint64(lineNumber-1) >= p.numNodes {
		res.Skip = SkipSourceOutOfRange
		return res
	}
	src := graph.NodeID(lineNumber - 1)
	res.Src = src

	if strings.TrimSpace(line) == "" {
		res.Skip = SkipBlank
		return res
	}

	large := false
	for rest := line; ; {
		tok, tail, more := strings.Cut(rest, p.delimiter)
		p.token(&res, strings.TrimSpace(tok), &large)
		if !more {
			break
		}
		rest = tail
	}
	if large {
		clear(p.seen)
	}

	if len(res.Dsts) == 0 {
		res.Skip = SkipNoValidTokens
	}
	return res
}

// token classifies one trimmed token and records it in res.
func (p *Parser) token(res *LineResult, tok string, large *bool) {
	if !isDigits(tok) {
		res.Malformed++
		return
	}
	v, err := strconv.ParseUint(tok, 10, 64)
	if err != nil || v == 0 || v-1 >= p.numNodes {
		res.OutOfRange++
		return
	}
	dst := graph.NodeID(v - 1)
	if dst == res.Src {
		res.SelfLoops++
		return
	}
	if p.isDuplicate(res.Dsts, dst, large) {
		res.Duplicates++
		return
	}
	res.Dsts = append(res.Dsts, dst)
}

// isDuplicate reports whether dst is already in dsts. Short lines scan;
// long lines switch to the parser's set once.
func (p *Parser) isDuplicate(dsts []graph.NodeID, dst graph.NodeID, large *bool) bool {
	if !*large {
		for _, d := range dsts {
			if d == dst {
				return true
			}
		}
		if len(dsts) < smallLineTokens {
			return false
		}
		*large = true
		for _, d := range dsts {
			p.seen[d] = struct{}{}
		}
		p.seen[dst] = struct{}{}
		return false
	}
	if _, ok := p.seen[dst]; ok {
		return true
	}
	p.seen[dst] = struct{}{}
	return false
}

// isDigits reports whether s is a non-empty run of ASCII decimal digits.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
