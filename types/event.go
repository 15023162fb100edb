package types

// EventName is the frame name an event is rendered under on the wire.
type EventName string

const (
	EventTool     EventName = "tool"
	EventText     EventName = "text"
	EventCitation EventName = "citation"
	EventProgress EventName = "progress"
	EventDone     EventName = "done"
	EventError    EventName = "error"
)

// Event is the closed set of records a job can emit. Only the types in this
// file implement it.
type Event interface {
	Name() EventName
	Terminal() bool
	sealed()
}

type ToolStep struct {
	Step string `json:"step"`
	Text string `json:"text"`
}

type TextChunk struct {
	Chunk string `json:"chunk"`
}

type CitationEvent struct {
	Citation
}

type Progress struct {
	Text    string `json:"text"`
	Percent int    `json:"progress"`
}

type Done struct {
	Status   string `json:"status,omitempty"`
	Message  string `json:"message,omitempty"`
	Filename string `json:"filename,omitempty"`
	Pages    int    `json:"pages,omitempty"`
	Chunks   int    `json:"chunks,omitempty"`
}

type Failure struct {
	Message string `json:"message"`
}

func (ToolStep) Name() EventName      { return EventTool }
func (TextChunk) Name() EventName     { return EventText }
func (CitationEvent) Name() EventName { return EventCitation }
func (Progress) Name() EventName      { return EventProgress }
func (Done) Name() EventName          { return EventDone }
func (Failure) Name() EventName       { return EventError }

func (ToolStep) Terminal() bool      { return false }
func (TextChunk) Terminal() bool     { return false }
func (CitationEvent) Terminal() bool { return false }
func (Progress) Terminal() bool      { return false }
func (Done) Terminal() bool          { return true }
func (Failure) Terminal() bool       { return true }

func (ToolStep) sealed()      {}
func (TextChunk) sealed()     {}
func (CitationEvent) sealed() {}
func (Progress) sealed()      {}
func (Done) sealed()          {}
func (Failure) sealed()       {}
