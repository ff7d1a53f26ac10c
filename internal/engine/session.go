package engine

type nodeKey struct {
	parent   int
	function string
	script   string
	scriptID int
	line     int
	column   int
}

type tick struct {
	stack  Stack
	ts     int64
	forced bool
	ack    chan struct{}
}

type session struct {
	title  string
	mode   Mode
	record bool
	start  int64

	root   *Node
	nodes  map[nodeKey]*Node
	nextID int

	samples    []*Node
	timestamps []int64
}

func newSession(title string, mode Mode, record bool, start int64) *session {
	return &session{
		title:  title,
		mode:   mode,
		record: record,
		start:  start,
		root:   &Node{ID: 1, FunctionName: RootName},
		nodes:  make(map[nodeKey]*Node),
		nextID: 2,
	}
}

func (s *session) child(parent *Node, key nodeKey) *Node {
	key.parent = parent.ID
	if n, ok := s.nodes[key]; ok {
		return n
	}
	n := &Node{
		ID:           s.nextID,
		FunctionName: key.function,
		ScriptName:   key.script,
		ScriptID:     key.scriptID,
		Line:         key.line,
		Column:       key.column,
	}
	s.nextID++
	s.nodes[key] = n
	parent.Children = append(parent.Children, n)
	return n
}

// add applies one captured tick. Ticks captured before the session began
// are left to older sessions.
func (s *session) add(t tick) {
	if t.ts < s.start {
		return
	}

	var leaf *Node
	frames := t.stack.Frames
	switch {
	case t.forced:
		leaf = s.child(s.root, nodeKey{function: ProgramName})
	case len(frames) == 0 && t.stack.Idle:
		leaf = s.child(s.root, nodeKey{function: IdleName})
	case len(frames) == 0:
		leaf = s.child(s.root, nodeKey{function: ProgramName})
	default:
		leaf = s.root
		callerLine := 0
		for _, f := range frames {
			key := nodeKey{
				function: f.FunctionName,
				script:   f.ScriptName,
				scriptID: f.ScriptID,
				line:     f.StartLine,
				column:   f.Column,
			}
			if s.mode == CallerLineNumbers {
				key.line = callerLine
			}
			leaf = s.child(leaf, key)
			callerLine = f.Line
		}
	}

	// Forced samples mark the sample list without counting as activity.
	if !t.forced {
		leaf.HitCount++
		if n := len(frames); n > 0 {
			leaf.addLineTick(frames[n-1].Line)
		}
	}
	if s.record {
		s.samples = append(s.samples, leaf)
		s.timestamps = append(s.timestamps, t.ts)
	}
}

func (s *session) profile(end int64) *Profile {
	return &Profile{
		Title:      s.title,
		Root:       s.root,
		Samples:    s.samples,
		Timestamps: s.timestamps,
		StartTime:  s.start,
		EndTime:    end,
	}
}
