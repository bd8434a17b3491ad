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
/*
	osrbridge — run and inspect speculative->baseline reconciliation
	scenarios written in the descriptor DSL (see reconcile.ParseFixture).
*/
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/fsnotify/fsnotify"

	"github.com/launix-de/osrbridge/reconcile"
)

const newprompt = "\033[32mosrbridge>\033[0m "
const resultprompt = "\033[31m=\033[0m "

func main() {
	fmt.Print(`osrbridge — speculative->baseline reconciliation fixture runner

`)

	watchPath := ""
	flag.StringVar(&watchPath, "watch", "", "fixture file to re-run on save")
	debugPort := 0
	flag.IntVar(&debugPort, "debug-port", 0, "if set together with -trace, serve a live websocket trace feed on this port")
	tracePath := ""
	flag.StringVar(&tracePath, "trace", "", "write a Chrome trace event file here")

	flag.Parse()
	fixtures := flag.Args()

	var debugServer *reconcile.DebugServer
	if debugPort != 0 {
		debugServer = reconcile.NewDebugServer()
		mux := http.NewServeMux()
		mux.Handle("/trace", debugServer)
		go http.ListenAndServe(debugServer.Addr(debugPort), mux)
		fmt.Printf("debug trace feed listening on %s/trace\n", debugServer.Addr(debugPort))
	}

	cancelChan := make(chan os.Signal, 1)
	signal.Notify(cancelChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-cancelChan
		os.Exit(1)
	}()

	if watchPath != "" {
		watchFixture(watchPath, tracePath, debugServer)
		select {} // watch mode runs until interrupted
	}

	for _, path := range fixtures {
		fmt.Println("running " + path + " ...")
		if err := runFixtureFile(path, tracePath, debugServer); err != nil {
			fmt.Println("error:", err)
			os.Exit(1)
		}
	}

	if len(fixtures) == 0 && watchPath == "" {
		repl(tracePath, debugServer)
	}
}

// watchFixture re-runs path every time it changes on disk, generalizing
// memcp's main.go getWatch from re-evaluating an .scm script to re-running
// a reconciliation fixture.
func watchFixture(path, tracePath string, debugServer *reconcile.DebugServer) {
	rerun := func() {
		if err := runFixtureFile(path, tracePath, debugServer); err != nil {
			fmt.Println("error:", err)
		}
	}
	rerun()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		panic(err)
	}
	go func() {
		for {
			select {
			case <-watcher.Events:
				for {
					time.Sleep(10 * time.Millisecond)
					select {
					case <-watcher.Events:
						continue
					default:
					}
					break
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							fmt.Println("panic during reload:", r)
						}
					}()
					rerun()
				}()
				watcher.Add(path) // editors rename-on-save, rewatch
			}
		}
	}()
	if err := watcher.Add(path); err != nil {
		panic(err)
	}
}

func runFixtureFile(path, tracePath string, debugServer *reconcile.DebugServer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return runFixtureText(path, string(data), tracePath, debugServer)
}

func runFixtureText(name, text, tracePath string, debugServer *reconcile.DebugServer) error {
	fc, err := reconcile.ParseFixture(name, text)
	if err != nil {
		return err
	}

	rf := reconcile.RegisterFile{NumGPR: 16, NumFPR: 16, TagMaskRegister: 15, TagTypeNumberRegister: 14, CallFrameRegister: 13}
	e := reconcile.NewWriterAMD64(rf)
	m := &reconcile.Metrics{}

	var trace *reconcile.Tracefile
	if tracePath != "" {
		f, err := os.Create(tracePath)
		if err != nil {
			return err
		}
		defer f.Close()
		trace = reconcile.NewTracefile(f)
		defer trace.Close()
	}
	if debugServer != nil && trace != nil {
		debugServer.Attach(trace)
	}

	bcMap := reconcile.NewBytecodeMap()
	ir := fixtureIR{fc: fc, bcMap: bcMap}
	d := reconcile.NewExitDriver(rf, e, bcMap, m)
	d.Trace = trace
	if err := d.Run(&ir); err != nil {
		return err
	}
	fmt.Printf("%d bytes emitted, %s\n", len(e.Code()), m.String())
	return nil
}

// fixtureIR adapts one parsed FixtureCase to reconcile.IR — a fixture is
// always exactly one exit, so every lookup ignores the id it's given.
type fixtureIR struct {
	fc    *reconcile.FixtureCase
	bcMap *reconcile.BytecodeMap
}

func (f *fixtureIR) Exits() []reconcile.ExitRecord {
	rec := reconcile.ExitRecord{ID: 1, Site: f.fc.Exit, Recovery: f.fc.Recovery, BytecodeOffset: 0}
	if len(f.fc.Lives) > 0 {
		f.bcMap.Register(0, 0)
	}
	return []reconcile.ExitRecord{rec}
}

func (f *fixtureIR) BridgeEntry(id reconcile.LogicalID) (reconcile.EntrySite, bool) {
	return f.fc.Entry, f.fc.HasEntry
}

func (f *fixtureIR) Sources(id reconcile.LogicalID) map[reconcile.LogicalID]reconcile.ValueDescriptor {
	return f.fc.Sources
}

func (f *fixtureIR) Lives(id reconcile.LogicalID) []reconcile.Live {
	return f.fc.Lives
}

func (f *fixtureIR) EntrySpills(id reconcile.LogicalID) []reconcile.EntrySpill {
	return f.fc.EntrySpills
}

func (f *fixtureIR) ReoptimizationCounterSlot(id reconcile.LogicalID) int32 {
	return -8
}

// repl is a direct adaptation of scm/prompt.go's Repl: instead of
// evaluating scheme expressions it parses and runs one fixture per Enter
// keypress, keeping the same anti-panic recover-and-continue shape.
func repl(tracePath string, debugServer *reconcile.DebugServer) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".osrbridge-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	fmt.Print("\nType a fixture on one line (statements separated by ';') and press enter.\nType 'help' to see the descriptor DSL summary.\n\n")

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		if line == "" {
			continue
		}
		if line == "help" {
			printHelp()
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Println("panic:", r, string(debug.Stack()))
				}
			}()
			if err := runFixtureText("repl", replExpand(line), tracePath, debugServer); err != nil {
				fmt.Println("error:", err)
				return
			}
			fmt.Print(resultprompt)
			fmt.Println("ok")
		}()
	}
}

// replExpand turns a single semicolon-joined REPL line back into the
// newline-delimited form ParseFixture expects.
func replExpand(line string) string {
	out := make([]byte, 0, len(line))
	for i := 0; i < len(line); i++ {
		if line[i] == ';' {
			out = append(out, '\n')
		} else {
			out = append(out, line[i])
		}
	}
	return string(out)
}

func printHelp() {
	fmt.Print(`
EXIT / ENTRY / OSR switch sections; RECOVER lines apply to either.
  gpr r0 = v1 : Int32
  fpr f0 = v2 : Double
  spilled v3 : -8 : Int32
  displaced v4 : -24 : Boxed
  const v5 : Boxed = 0
  recover undo-add r0 r1
  recover undo-bool r2
  live v1 : 1 : Int32

Inside ENTRY, "spilled vN : slot : Tag" means that value's destination is a
spill slot, not a register (pre-spilled before shuffling, spec Step A).

`)
}
