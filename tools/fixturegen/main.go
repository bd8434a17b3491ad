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

// fixturegen reads a descriptor-DSL fixture file (reconcile.ParseFixture)
// and writes the Go source of the equivalent ExitSite/EntrySite struct
// literal, the inverse of hand-writing a literal scenario. It plays the
// same "read something, emit Go source" role tools/jitgen plays for the
// teacher, except a fixture is already declarative text — there is no Go
// source function body to build SSA for, so this needs none of jitgen's
// go/ast or go/packages machinery.
//
// Usage:
//
//	go run ./tools/fixturegen -name S1 fixtures/bridge_simple.fixture
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/launix-de/osrbridge/reconcile"
)

func main() {
	varName := ""
	flag.StringVar(&varName, "name", "Generated", "Go identifier for the emitted variable")
	out := ""
	flag.StringVar(&out, "out", "", "output file (default: stdout)")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: fixturegen -name NAME [-out FILE] <fixture-file>")
		os.Exit(1)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fc, err := reconcile.ParseFixture(args[0], string(data))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	src := generate(varName, fc)

	if out == "" {
		fmt.Print(src)
		return
	}
	if err := os.WriteFile(out, []byte(src), 0644); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// generate renders fc as a self-contained Go source file declaring package
// scoped Go values reconcile's own tests can use directly, matching the
// shape hand-written scenario literals already take in *_test.go files.
func generate(varName string, fc *reconcile.FixtureCase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "// Code generated by tools/fixturegen from %s. DO NOT EDIT.\n\n", fc.Name)
	fmt.Fprintf(&b, "package fixtures\n\n")
	fmt.Fprintf(&b, "import \"github.com/launix-de/osrbridge/reconcile\"\n\n")

	fmt.Fprintf(&b, "var %sExit = func() reconcile.ExitSite {\n", varName)
	fmt.Fprintf(&b, "\trf := reconcile.RegisterFile{NumGPR: 16, NumFPR: 16, TagMaskRegister: 15, TagTypeNumberRegister: 14, CallFrameRegister: 13}\n")
	fmt.Fprintf(&b, "\tsite := reconcile.NewExitSite(rf)\n")
	emitRegAssignments(&b, "site", fc.Exit.GPR, false)
	emitRegAssignments(&b, "site", fc.Exit.FPR, true)
	fmt.Fprintf(&b, "\treturn site\n")
	fmt.Fprintf(&b, "}()\n\n")

	if fc.HasEntry {
		fmt.Fprintf(&b, "var %sEntry = func() reconcile.EntrySite {\n", varName)
		fmt.Fprintf(&b, "\trf := reconcile.RegisterFile{NumGPR: 16, NumFPR: 16, TagMaskRegister: 15, TagTypeNumberRegister: 14, CallFrameRegister: 13}\n")
		fmt.Fprintf(&b, "\tentry := reconcile.NewEntrySite(rf)\n")
		emitEntryAssignments(&b, "entry", fc.Entry.GPR, false)
		emitEntryAssignments(&b, "entry", fc.Entry.FPR, true)
		fmt.Fprintf(&b, "\treturn entry\n")
		fmt.Fprintf(&b, "}()\n\n")
	}

	fmt.Fprintf(&b, "\nvar %sSources = map[reconcile.LogicalID]reconcile.ValueDescriptor{\n", varName)
	for id, desc := range fc.Sources {
		fmt.Fprintf(&b, "\t%d: {Kind: %s, StackSlot: %d, Tag: %s},\n", id, descKindName(desc.Kind), desc.StackSlot, tagName(desc.Tag))
	}
	fmt.Fprintf(&b, "}\n\n")

	fmt.Fprintf(&b, "var %sLives = []reconcile.Live{\n", varName)
	for _, l := range fc.Lives {
		fmt.Fprintf(&b, "\t{ID: %d, HomeSlot: %d, HomeTag: %s},\n", l.ID, l.HomeSlot, tagName(l.HomeTag))
	}
	fmt.Fprintf(&b, "}\n")

	if len(fc.EntrySpills) > 0 {
		fmt.Fprintf(&b, "\nvar %sEntrySpills = []reconcile.EntrySpill{\n", varName)
		for _, es := range fc.EntrySpills {
			fmt.Fprintf(&b, "\t{ID: %d, HomeSlot: %d, HomeTag: %s},\n", es.ID, es.HomeSlot, tagName(es.HomeTag))
		}
		fmt.Fprintf(&b, "}\n")
	}

	return b.String()
}

func emitRegAssignments(b *strings.Builder, varName string, slots []reconcile.RegSlot, fpr bool) {
	for i, sl := range slots {
		if !sl.Used {
			continue
		}
		r := i
		if fpr {
			r += int(reconcile.FPRBase)
		}
		fmt.Fprintf(b, "\t%s.Set(rf, %d, %d, %s, %t)\n", varName, r, sl.LogicalID, tagName(sl.Tag), sl.IsAlsoSpilled)
	}
}

func emitEntryAssignments(b *strings.Builder, varName string, slots []reconcile.RegSlot, fpr bool) {
	for i, sl := range slots {
		if !sl.Used {
			continue
		}
		r := i
		if fpr {
			r += int(reconcile.FPRBase)
		}
		fmt.Fprintf(b, "\t%s.Set(rf, %d, %d, %s)\n", varName, r, sl.LogicalID, tagName(sl.Tag))
	}
}

func descKindName(k reconcile.DescKind) string {
	switch k {
	case reconcile.DescInGpr:
		return "reconcile.DescInGpr"
	case reconcile.DescInFpr:
		return "reconcile.DescInFpr"
	case reconcile.DescSpilled:
		return "reconcile.DescSpilled"
	case reconcile.DescDisplaced:
		return "reconcile.DescDisplaced"
	case reconcile.DescConstant:
		return "reconcile.DescConstant"
	case reconcile.DescDead:
		return "reconcile.DescDead"
	}
	return "reconcile.DescDead"
}

func tagName(t reconcile.RepTag) string {
	switch t {
	case reconcile.TagInt32:
		return "reconcile.TagInt32"
	case reconcile.TagBoxedInt32:
		return "reconcile.TagBoxedInt32"
	case reconcile.TagCell:
		return "reconcile.TagCell"
	case reconcile.TagBoxed:
		return "reconcile.TagBoxed"
	case reconcile.TagDouble:
		return "reconcile.TagDouble"
	case reconcile.TagBoxedDouble:
		return "reconcile.TagBoxedDouble"
	}
	return "reconcile.TagBoxed"
}
