package codemap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrMalformedPerfMap is returned for a perf map line that cannot be parsed.
var ErrMalformedPerfMap = errors.New("malformed perf map line")

// PerfMapPath returns the conventional perf map location for pid.
func PerfMapPath(pid int) string {
	return fmt.Sprintf("/tmp/perf-%d.map", pid)
}

// LoadPerfMapFile opens path and publishes its entries to feed.
func LoadPerfMapFile(path string, feed *Feed) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open perf map: %w", err)
	}
	defer func() { _ = f.Close() }()

	events, err := ParsePerfMap(f)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for _, ev := range events {
		feed.Publish(ev)
	}
	return len(events), nil
}

// ParsePerfMap reads a JIT perf map and returns one CodeCreated event per
// line. Each line has the form
//
//	<hex start> <hex size> <name>
//
// where name is typically "<Kind>:<marker><function> <script>:<line>:<column>",
// for example "LazyCompile:*handler /srv/app.js:12:3". Blank lines are
// skipped. Later lines override earlier ones at the same address when
// applied to a CodeMap.
func ParsePerfMap(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, err := parsePerfMapLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading perf map: %w", err)
	}
	return events, nil
}

func parsePerfMapLine(line string) (Event, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 {
		return Event{}, fmt.Errorf("%w: %q", ErrMalformedPerfMap, line)
	}

	addr, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: bad address %q", ErrMalformedPerfMap, parts[0])
	}
	size, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: bad size %q", ErrMalformedPerfMap, parts[1])
	}

	ev := Event{Kind: CodeCreated, Address: addr, Size: size}
	parseSymbolName(parts[2], &ev)
	return ev, nil
}

// parseSymbolName splits "<Kind>:<marker><function> <script>:<line>:<column>".
// Anything it does not recognise ends up verbatim in FunctionName.
func parseSymbolName(name string, ev *Event) {
	fn, loc, hasLoc := strings.Cut(name, " ")

	if kind, rest, ok := strings.Cut(fn, ":"); ok && isCodeKind(kind) {
		ev.Comment = kind
		fn = strings.TrimLeft(rest, "*~")
	}
	ev.FunctionName = fn

	if !hasLoc {
		return
	}
	ev.ScriptName = loc

	script, column, ok := cutLastNumber(loc)
	if !ok {
		return
	}
	script2, line, ok := cutLastNumber(script)
	if !ok {
		ev.ScriptName = script
		ev.Line = column
		return
	}
	ev.ScriptName = script2
	ev.Line = line
	ev.Column = column
}

func cutLastNumber(s string) (string, int, bool) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return s, 0, false
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return s, 0, false
	}
	return s[:i], n, true
}

func isCodeKind(kind string) bool {
	switch kind {
	case "LazyCompile", "Function", "Script", "Eval", "Builtin", "Stub",
		"BytecodeHandler", "RegExp", "Handler", "JS", "Interpreter":
		return true
	}
	return false
}
