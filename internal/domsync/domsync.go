// Package domsync implements the DOM synchronizer component (C7): keeping a
// versioned string encoding of the document in step with tree mutations,
// diffing with UTF-16 code units (browser string semantics) via
// github.com/sergi/go-diff's Myers implementation, grounded directly on
// _examples/original_source/rust/document/src/sync_dom.rs.
package domsync

import (
	"sync"
	"time"
	"unicode/utf16"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// MinimumDiffLen below this length a full content reset is cheaper than
// diffing plus patching in the browser, per sync_dom.rs's MINIMUM_DIFF_LEN.
const MinimumDiffLen = 1000

// MaximumDiffTime bounds how long a single diff pass may run, per
// sync_dom.rs's MAXIMUM_DIFF_SECS.
const MaximumDiffTime = 1 * time.Second

// OpKind is the closed set of DOM patch operations.
type OpKind string

const (
	OpReset   OpKind = "Reset"
	OpInsert  OpKind = "Insert"
	OpDelete  OpKind = "Delete"
	OpReplace OpKind = "Replace"
)

// Op is one DOM mutation expressed in UTF-16 code-unit offsets, matching the
// browser's String.length semantics.
type Op struct {
	Kind    OpKind
	From    int
	To      int
	Content string
}

// DomPatch bundles a version number with the ops needed to bring a client's
// encoding from version-1 to version.
type DomPatch struct {
	Version int
	Ops     []Op
}

// Synchronizer tracks one document's current string encoding and the
// version number that increments every time it changes.
type Synchronizer struct {
	mu      sync.Mutex
	version int
	current string
}

// New creates a Synchronizer seeded at version 1 with the document's initial
// encoding.
func New(initialContent string) *Synchronizer {
	return &Synchronizer{version: 1, current: initialContent}
}

// Version returns the synchronizer's current version number.
func (s *Synchronizer) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// InitialPatch returns the reset patch a newly connected client needs to
// reach the synchronizer's current version.
func (s *Synchronizer) InitialPatch() DomPatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DomPatch{Version: s.version, Ops: []Op{{Kind: OpReset, Content: s.current}}}
}

// Update computes the ops (if any) needed to move from the current encoding
// to newContent, bumps the version when content changed, and returns the
// patch to broadcast. Returns ok=false when content is unchanged.
func (s *Synchronizer) Update(newContent string) (DomPatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newContent == s.current {
		return DomPatch{}, false
	}

	var ops []Op
	if len(newContent) < MinimumDiffLen {
		ops = []Op{{Kind: OpReset, Content: newContent}}
	} else if diffed, ok := diffUTF16(s.current, newContent); ok {
		ops = diffed
	} else {
		ops = []Op{{Kind: OpReset, Content: newContent}}
	}

	s.version++
	s.current = newContent
	return DomPatch{Version: s.version, Ops: ops}, true
}

// diffUTF16 runs a Myers diff over the UTF-16 code units of old/new (the
// unit browsers index strings by) and converts the result into Insert/
// Delete/Replace ops addressed by UTF-16 offset, merging adjacent
// delete+insert pairs at the same position into a single Replace. Returns
// ok=false if the diff budget expired, in which case the caller must fall
// back to a full Reset rather than trust the truncated, non-minimal diff.
func diffUTF16(oldContent, newContent string) ([]Op, bool) {
	oldUnits := utf16.Encode([]rune(oldContent))
	newUnits := utf16.Encode([]rune(newContent))

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = MaximumDiffTime

	oldStr := string(utf16ToRunes(oldUnits))
	newStr := string(utf16ToRunes(newUnits))

	start := time.Now()
	diffs := dmp.DiffMain(oldStr, newStr, false)
	if MaximumDiffTime > 0 && time.Since(start) >= MaximumDiffTime {
		return nil, false
	}

	var ops []Op
	from := 0
	i := 0
	for i < len(diffs) {
		d := diffs[i]
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			from += len([]rune(d.Text))
			i++
		case diffmatchpatch.DiffDelete:
			deleteLen := len([]rune(d.Text))
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffInsert {
				ops = append(ops, Op{Kind: OpReplace, From: from, To: from + deleteLen, Content: diffs[i+1].Text})
				from += len([]rune(diffs[i+1].Text))
				i += 2
			} else {
				ops = append(ops, Op{Kind: OpDelete, From: from, To: from + deleteLen})
				i++
			}
		case diffmatchpatch.DiffInsert:
			ops = append(ops, Op{Kind: OpInsert, From: from, Content: d.Text})
			from += len([]rune(d.Text))
			i++
		}
	}
	return ops, true
}

// utf16ToRunes reinterprets UTF-16 code units as a rune slice so
// diffmatchpatch's rune-based diff operates on code-unit granularity rather
// than Unicode code points, matching the browser's indexing.
func utf16ToRunes(units []uint16) []rune {
	out := make([]rune, len(units))
	for i, u := range units {
		out[i] = rune(u)
	}
	return out
}
