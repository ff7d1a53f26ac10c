package codemap

// Record describes one region of generated machine code.
//
// A record is identified by the start address it was inserted at. ScriptID
// may be assigned after creation, once the runtime associates the code with
// a loaded script.
type Record struct {
	Address         uint64
	PreviousAddress uint64
	Size            uint64
	Line            int
	Column          int
	Comment         string
	FunctionName    string
	ScriptName      string

	scriptID int
}

// NewRecord builds a record for the code region [address, address+size).
func NewRecord(address, size uint64, functionName, scriptName string, line, column int) *Record {
	return &Record{
		Address:      address,
		Size:         size,
		Line:         line,
		Column:       column,
		FunctionName: functionName,
		ScriptName:   scriptName,
	}
}

// ScriptID returns the script the code belongs to, or zero when unknown.
func (r *Record) ScriptID() int { return r.scriptID }

// SetScriptID records the script the code belongs to.
func (r *Record) SetScriptID(id int) { r.scriptID = id }

// End returns the first address past the region.
func (r *Record) End() uint64 { return r.Address + r.Size }

// Contains reports whether address falls inside the region.
func (r *Record) Contains(address uint64) bool {
	return address >= r.Address && address < r.End()
}

// Equal reports whether two records describe the same code, field by field.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Address == o.Address &&
		r.PreviousAddress == o.PreviousAddress &&
		r.Size == o.Size &&
		r.Line == o.Line &&
		r.Column == o.Column &&
		r.Comment == o.Comment &&
		r.FunctionName == o.FunctionName &&
		r.ScriptName == o.ScriptName &&
		r.scriptID == o.scriptID
}

// Location is a resolved source position for one machine-code address.
type Location struct {
	Address      uint64
	FunctionName string
	ScriptName   string
	ScriptID     int
	Line         int
	Column       int
	Comment      string
}

func (r *Record) location(address uint64) Location {
	return Location{
		Address:      address,
		FunctionName: r.FunctionName,
		ScriptName:   r.ScriptName,
		ScriptID:     r.scriptID,
		Line:         r.Line,
		Column:       r.Column,
		Comment:      r.Comment,
	}
}
