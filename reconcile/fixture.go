/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package reconcile

import (
	"fmt"
	"strconv"
	"strings"

	packrat "github.com/launix-de/go-packrat"
)

// FixtureCase is one reconciliation scenario parsed from the descriptor
// DSL — enough to build an ExitSite, an optional EntrySite (bridging
// fixtures), a Sources map (spilled/displaced/constant values), and a
// recovery list, without a real IR behind any of it. This is what drives
// the literal scenario tests and anything tools/fixturegen produces.
type FixtureCase struct {
	Name        string
	Exit        ExitSite
	Entry       EntrySite
	HasEntry    bool
	Sources     map[LogicalID]ValueDescriptor
	Recovery    []RecoveryAction
	Lives       []Live       // populated instead of Entry/Sources for OSR fixtures
	EntrySpills []EntrySpill // entry-side destinations that are spill slots, not registers
}

// statement grammar: one line of the DSL, of the form
//
//	gpr r3 = v7 : BoxedInt32
//	fpr f1 = v2 : Double
//	spilled v9 : -16 : Int32
//	displaced v4 : -24 : Boxed
//	const v1 : Boxed = 0
//	recover undo-add r2 r3
//	recover undo-bool r5
//	live v3 : 8 : Int32
//
// and the keyword lines "EXIT", "ENTRY" and "OSR" that switch which
// section subsequent statements belong to.
var fixtureGrammar = buildFixtureGrammar()

func buildFixtureGrammar() packrat.Parser {
	statement := packrat.NewRegexParser(`[^\n]*`, false, false)
	line := packrat.NewAndParser(statement, packrat.NewRegexParser(`\n*`, false, false))
	return packrat.NewKleeneParser(line, packrat.NewEmptyParser())
}

// ParseFixture parses one fixture case out of text. It uses the packrat
// grammar above purely to split the document into well-formed lines
// (mirroring how memcp reaches for go-packrat instead
// of hand-rolled scanning whenever it owns a little text format); the
// per-line field extraction below is plain string splitting, since at
// line granularity the DSL has no recursive structure left to parse.
func ParseFixture(name, text string) (*FixtureCase, error) {
	scanner := packrat.NewScanner(text, packrat.SkipWhitespaceAndCommentsRegex)
	node, err := packrat.Parse(fixtureGrammar, scanner)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", name, err)
	}

	fc := &FixtureCase{
		Name:    name,
		Exit:    NewExitSite(defaultRF),
		Entry:   NewEntrySite(defaultRF),
		Sources: map[LogicalID]ValueDescriptor{},
	}
	section := "exit"

	for _, raw := range strings.Split(node.Matched, "\n") {
		fields := strings.Fields(raw)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "EXIT":
			section = "exit"
			continue
		case "ENTRY":
			section = "entry"
			fc.HasEntry = true
			continue
		case "OSR":
			section = "osr"
			continue
		case "RECOVER":
			ra, err := parseRecoverLine(fields)
			if err != nil {
				return nil, fmt.Errorf("fixture %s: %w", name, err)
			}
			fc.Recovery = append(fc.Recovery, ra)
			continue
		}

		switch section {
		case "exit":
			if err := applyRegLine(&fc.Exit, nil, fields); err != nil {
				if err2 := applySourceLine(fc.Sources, fields); err2 != nil {
					return nil, fmt.Errorf("fixture %s: %w", name, err)
				}
			}
		case "entry":
			if err := applyRegLine(nil, &fc.Entry, fields); err != nil {
				es, err2 := parseEntrySpillLine(fields)
				if err2 != nil {
					return nil, fmt.Errorf("fixture %s: %w", name, err)
				}
				fc.EntrySpills = append(fc.EntrySpills, es)
			}
		case "osr":
			l, err := parseLiveLine(fields)
			if err != nil {
				return nil, fmt.Errorf("fixture %s: %w", name, err)
			}
			fc.Lives = append(fc.Lives, l)
		}
	}
	return fc, nil
}

// applyRegLine handles "gpr rN = vM : Tag" / "fpr fN = vM : Tag" against
// whichever of exit/entry is non-nil.
func applyRegLine(exit *ExitSite, entry *EntrySite, fields []string) error {
	if len(fields) < 6 {
		return fmt.Errorf("not a register line: %q", strings.Join(fields, " "))
	}
	kind := strings.ToLower(fields[0])
	if kind != "gpr" && kind != "fpr" {
		return fmt.Errorf("not a register line: %q", strings.Join(fields, " "))
	}
	regNum, err := parseTrailingInt(fields[1])
	if err != nil {
		return err
	}
	id, err := parseLogicalID(fields[3])
	if err != nil {
		return err
	}
	tag, err := parseTag(fields[5])
	if err != nil {
		return err
	}
	r := Reg(regNum)
	if kind == "fpr" {
		r += FPRBase
	}
	if exit != nil {
		exit.Set(defaultRF, r, id, tag, false)
	}
	if entry != nil {
		entry.Set(defaultRF, r, id, tag)
	}
	return nil
}

func applySourceLine(sources map[LogicalID]ValueDescriptor, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("not a source line")
	}
	switch strings.ToLower(fields[0]) {
	case "spilled", "displaced":
		id, err := parseLogicalID(fields[1])
		if err != nil {
			return err
		}
		if len(fields) < 6 {
			return fmt.Errorf("spilled/displaced line needs a slot and tag")
		}
		slot, err := parseTrailingInt(fields[3])
		if err != nil {
			return err
		}
		tag, err := parseTag(fields[5])
		if err != nil {
			return err
		}
		kind := DescSpilled
		if strings.ToLower(fields[0]) == "displaced" {
			kind = DescDisplaced
		}
		sources[id] = ValueDescriptor{Kind: kind, StackSlot: int32(slot), Tag: tag}
		return nil
	case "const":
		id, err := parseLogicalID(fields[1])
		if err != nil {
			return err
		}
		if len(fields) < 6 {
			return fmt.Errorf("const line needs tag and bits")
		}
		tag, err := parseTag(fields[3])
		if err != nil {
			return err
		}
		bits, err := strconv.ParseUint(fields[5], 10, 64)
		if err != nil {
			return fmt.Errorf("bad constant bits %q: %w", fields[5], err)
		}
		sources[id] = ValueDescriptor{Kind: DescConstant, Value: ConstValue{Tag: tag, Bits: bits}}
		return nil
	}
	return fmt.Errorf("unrecognized source line")
}

// parseEntrySpillLine reuses the "spilled vN : slot : Tag" line form inside
// an ENTRY section to mean: this logical value's entry destination is a
// spill slot, not a register (spec §4.3 Step A), distinguished from the
// identically-shaped EXIT-section "spilled" source line only by which
// section it appears in.
func parseEntrySpillLine(fields []string) (EntrySpill, error) {
	if len(fields) < 6 || strings.ToLower(fields[0]) != "spilled" {
		return EntrySpill{}, fmt.Errorf("not an entry-spill line: %q", strings.Join(fields, " "))
	}
	id, err := parseLogicalID(fields[1])
	if err != nil {
		return EntrySpill{}, err
	}
	slot, err := parseTrailingInt(fields[3])
	if err != nil {
		return EntrySpill{}, err
	}
	tag, err := parseTag(fields[5])
	if err != nil {
		return EntrySpill{}, err
	}
	return EntrySpill{ID: id, HomeSlot: int32(slot), HomeTag: tag}, nil
}

func parseLiveLine(fields []string) (Live, error) {
	// live vN : S : Tag
	if len(fields) < 6 || strings.ToLower(fields[0]) != "live" {
		return Live{}, fmt.Errorf("not a live line: %q", strings.Join(fields, " "))
	}
	id, err := parseLogicalID(fields[1])
	if err != nil {
		return Live{}, err
	}
	slot, err := parseTrailingInt(fields[3])
	if err != nil {
		return Live{}, err
	}
	tag, err := parseTag(fields[5])
	if err != nil {
		return Live{}, err
	}
	return Live{ID: id, HomeSlot: int32(slot), HomeTag: tag}, nil
}

func parseRecoverLine(fields []string) (RecoveryAction, error) {
	if len(fields) < 2 {
		return RecoveryAction{}, fmt.Errorf("recover line needs a kind")
	}
	switch strings.ToLower(fields[1]) {
	case "undo-add":
		if len(fields) < 4 {
			return RecoveryAction{}, fmt.Errorf("recover undo-add needs two registers")
		}
		dest, err := parseTrailingInt(fields[2])
		if err != nil {
			return RecoveryAction{}, err
		}
		src, err := parseTrailingInt(fields[3])
		if err != nil {
			return RecoveryAction{}, err
		}
		return RecoveryAction{Kind: RecoveryUndoSpeculativeAdd, Dest: Reg(dest), Src: Reg(src)}, nil
	case "undo-bool":
		if len(fields) < 3 {
			return RecoveryAction{}, fmt.Errorf("recover undo-bool needs one register")
		}
		dest, err := parseTrailingInt(fields[2])
		if err != nil {
			return RecoveryAction{}, err
		}
		return RecoveryAction{Kind: RecoveryUndoBooleanGuard, Dest: Reg(dest)}, nil
	}
	return RecoveryAction{}, fmt.Errorf("unknown recovery kind %q", fields[1])
}

func parseTrailingInt(tok string) (int, error) {
	tok = strings.TrimLeft(tok, "rRfF")
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("bad register/slot token %q: %w", tok, err)
	}
	return n, nil
}

func parseLogicalID(tok string) (LogicalID, error) {
	tok = strings.TrimPrefix(strings.ToLower(tok), "v")
	n, err := strconv.ParseUint(tok, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad logical id token %q: %w", tok, err)
	}
	return LogicalID(n), nil
}

func parseTag(tok string) (RepTag, error) {
	switch tok {
	case "Int32":
		return TagInt32, nil
	case "BoxedInt32":
		return TagBoxedInt32, nil
	case "Cell":
		return TagCell, nil
	case "Boxed":
		return TagBoxed, nil
	case "Double":
		return TagDouble, nil
	case "BoxedDouble":
		return TagBoxedDouble, nil
	}
	return 0, fmt.Errorf("unknown representation tag %q", tok)
}

// defaultRF is the register-file shape fixture text is written against:
// 16 GPRs and 16 FPRs is generous enough for every scenario in spec §8
// without the DSL having to spell out a register-file header of its own.
var defaultRF = RegisterFile{
	NumGPR:                16,
	NumFPR:                16,
	TagMaskRegister:       15,
	TagTypeNumberRegister: 14,
	CallFrameRegister:     13,
}
