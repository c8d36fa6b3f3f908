package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	FSChanged = "fs.changed"
	FSCreated = "fs.created"
	FSDeleted = "fs.deleted"
	FSRenamed = "fs.renamed"

	TaskCreated   = "task.created"
	TaskProgress  = "task.progress"
	TaskCompleted = "task.completed"

	BrowserOpened        = "browser.opened"
	BrowserClosed        = "browser.closed"
	BrowserNavigated     = "browser.navigated"
	BrowserScanStarted   = "browser.scanStarted"
	BrowserScanCompleted = "browser.scanCompleted"
	BrowserScanFailed    = "browser.scanFailed"
	BrowserScanCancelled = "browser.scanCancelled"
	BrowserInvalidated   = "browser.invalidated"
)

// ============================================================================
// Filesystem Events
// ============================================================================

// FSChangedEvent is emitted when entries change in place (copy target,
// permissions).
type FSChangedEvent struct {
	Paths []string // Affected paths (optional, empty means "check everything")
}

func (e FSChangedEvent) EventName() string { return FSChanged }

// FSCreatedEvent is emitted when a file/directory is created.
type FSCreatedEvent struct {
	Path  string
	IsDir bool
}

func (e FSCreatedEvent) EventName() string { return FSCreated }

// FSDeletedEvent is emitted when a file/directory is deleted.
type FSDeletedEvent struct {
	Path string
}

func (e FSDeletedEvent) EventName() string { return FSDeleted }

// FSRenamedEvent is emitted when a file/directory is renamed/moved.
type FSRenamedEvent struct {
	OldPath string
	NewPath string
}

func (e FSRenamedEvent) EventName() string { return FSRenamed }

// ============================================================================
// Task Events
// ============================================================================

// TaskCreatedEvent is emitted when a batch operation starts.
type TaskCreatedEvent struct {
	TaskID   string
	TaskType string // "delete", "copy", "move"
	Total    int
}

func (e TaskCreatedEvent) EventName() string { return TaskCreated }

// TaskProgressEvent is emitted after each entry of a batch operation.
type TaskProgressEvent struct {
	TaskID string
	Total  int
	Done   int
	Failed int
	Path   string // Entry just processed
}

func (e TaskProgressEvent) EventName() string { return TaskProgress }

// TaskCompletedEvent is emitted when a batch operation ends.
type TaskCompletedEvent struct {
	TaskID    string
	Success   bool
	Cancelled bool
}

func (e TaskCompletedEvent) EventName() string { return TaskCompleted }

// ============================================================================
// Browser Events
// ============================================================================

// BrowserOpenedEvent is emitted when a browsing session is created.
type BrowserOpenedEvent struct {
	SessionID string
	Path      string
}

func (e BrowserOpenedEvent) EventName() string { return BrowserOpened }

// BrowserClosedEvent is emitted when a browsing session is closed.
type BrowserClosedEvent struct {
	SessionID string
}

func (e BrowserClosedEvent) EventName() string { return BrowserClosed }

var browserNames = map[string]string{
	"navigated":      BrowserNavigated,
	"scan_started":   BrowserScanStarted,
	"scan_completed": BrowserScanCompleted,
	"scan_failed":    BrowserScanFailed,
	"scan_cancelled": BrowserScanCancelled,
	"invalidated":    BrowserInvalidated,
}

// BrowserEvent relays one navigator transition of a session. Kind is the
// navigator's event kind name.
type BrowserEvent struct {
	SessionID string
	Kind      string
	Path      string
	Previous  string `json:",omitempty"`
	Entries   int    `json:",omitempty"`
	Error     string `json:",omitempty"`
}

func (e BrowserEvent) EventName() string {
	if name, ok := browserNames[e.Kind]; ok {
		return name
	}
	return "browser." + e.Kind
}
