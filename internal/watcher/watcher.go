// Package watcher indexes the Claude Code session files under
// ~/.claude/projects so sessions started outside the daemon show up in
// the UI. Only sessions inside approved project folders are tracked;
// everything else is ignored before it is even parsed.
package watcher

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zkw15555506767-boop/CodeNova/internal/claude"
)

// SessionInfo is the tracked state of one external session file.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	ProjectPath  string    `json:"project_path"`
	FilePath     string    `json:"file_path"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	TotalCostUSD float64   `json:"total_cost_usd"`
	LastActivity time.Time `json:"last_activity"`
}

// Session status values derived from the last activity timestamp.
const (
	SessionStatusActive   = "active"   // Activity within the last hour
	SessionStatusInactive = "inactive" // No activity for 1+ hours
	SessionStatusStale    = "stale"    // No activity for 24+ hours
)

// GetStatus classifies the session by how long it has been quiet.
func (s *SessionInfo) GetStatus() string {
	elapsed := time.Since(s.LastActivity)
	if elapsed < time.Hour {
		return SessionStatusActive
	}
	if elapsed < 24*time.Hour {
		return SessionStatusInactive
	}
	return SessionStatusStale
}

// IsRecentlyActive reports whether the session had activity within the last hour.
func (s *SessionInfo) IsRecentlyActive() bool {
	return time.Since(s.LastActivity) < time.Hour
}

// SessionCallbacks for session events.
type SessionCallbacks struct {
	OnNewSession       func(session *SessionInfo)
	OnSessionUpdated   func(session *SessionInfo) // Debounced: called when session metadata changes
	OnSessionEnd       func(sessionID string)
	ShouldWatchProject func(projectPath string) bool // Approval filter: return true to track this project
}

const (
	pollInterval   = 2 * time.Second
	updateDebounce = 500 * time.Millisecond

	// Session files can carry large tool outputs per line
	maxLineSize = 1024 * 1024
)

// Watcher tails session files with fsnotify, backed by a polling sweep
// for platforms where the notifications are unreliable.
type Watcher struct {
	projectsRoot string
	fsWatcher    *fsnotify.Watcher
	callbacks    SessionCallbacks

	mu           sync.RWMutex
	sessions     map[string]*SessionInfo // session ID -> tracked state
	tailOffsets  map[string]int64        // file path -> last read position
	updateTimers map[string]*time.Timer  // session ID -> debounce timer

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher builds a watcher rooted at ~/.claude/projects.
func NewWatcher(callbacks SessionCallbacks) (*Watcher, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	root := filepath.Join(home, ".claude", "projects")
	os.MkdirAll(root, 0755)

	w := &Watcher{
		projectsRoot: root,
		callbacks:    callbacks,
		sessions:     make(map[string]*SessionInfo),
		tailOffsets:  make(map[string]int64),
		updateTimers: make(map[string]*time.Timer),
		stopChan:     make(chan struct{}),
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️ fsnotify unavailable, using poll-only mode: %v", err)
	} else {
		w.fsWatcher = fsWatcher
		w.watchExistingDirs()
	}

	log.Printf("✅ Session watcher initialized (path: %s, OS: %s)", root, runtime.GOOS)
	return w, nil
}

func (w *Watcher) watchExistingDirs() {
	if err := w.fsWatcher.Add(w.projectsRoot); err != nil {
		log.Printf("⚠️ Failed to watch %s: %v", w.projectsRoot, err)
	}

	entries, _ := os.ReadDir(w.projectsRoot)
	for _, entry := range entries {
		if entry.IsDir() {
			projDir := filepath.Join(w.projectsRoot, entry.Name())
			if err := w.fsWatcher.Add(projDir); err != nil {
				log.Printf("⚠️ Failed to watch %s: %v", projDir, err)
			}
		}
	}
}

// Start indexes existing sessions and begins watching for changes.
func (w *Watcher) Start() {
	// Index what is already on disk without broadcasting it
	indexed, skipped := 0, 0
	w.forEachSessionFile(func(filePath string) {
		if w.trackFile(filePath, false) {
			indexed++
		} else {
			skipped++
		}
	})
	log.Printf("📁 Indexed %d sessions in approved folders (skipped %d in other folders)", indexed, skipped)

	if w.fsWatcher != nil {
		w.wg.Add(1)
		go w.fsnotifyLoop()
	}

	// Polling always runs as a backup for missed notifications
	w.wg.Add(1)
	go w.pollLoop()

	log.Println("🔍 Session watcher started")
}

// Stop stops the watcher and all pending debounce timers.
func (w *Watcher) Stop() {
	close(w.stopChan)
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
	}
	w.mu.Lock()
	for _, timer := range w.updateTimers {
		timer.Stop()
	}
	w.mu.Unlock()
	w.wg.Wait()
	log.Println("🛑 Session watcher stopped")
}

func (w *Watcher) fsnotifyLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if strings.HasSuffix(event.Name, ".jsonl") {
					w.trackFile(event.Name, true)
				} else if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.fsWatcher.Add(event.Name)
				}
			}
			if event.Op&fsnotify.Write == fsnotify.Write && strings.HasSuffix(event.Name, ".jsonl") {
				w.tailFile(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️ fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) pollLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep reads growth on tracked files and picks up files fsnotify missed.
func (w *Watcher) sweep() {
	w.mu.RLock()
	offsets := make(map[string]int64, len(w.tailOffsets))
	for path, pos := range w.tailOffsets {
		offsets[path] = pos
	}
	w.mu.RUnlock()

	for path, pos := range offsets {
		if info, err := os.Stat(path); err == nil && info.Size() > pos {
			w.readNewLines(path, pos)
		}
	}

	w.forEachSessionFile(func(filePath string) {
		sessionID := sessionIDFromPath(filePath)
		w.mu.RLock()
		_, known := w.sessions[sessionID]
		w.mu.RUnlock()
		if !known {
			w.trackFile(filePath, true)
		}
	})
}

// forEachSessionFile visits every .jsonl file under the projects root.
func (w *Watcher) forEachSessionFile(visit func(filePath string)) {
	entries, _ := os.ReadDir(w.projectsRoot)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projDir := filepath.Join(w.projectsRoot, entry.Name())
		files, _ := os.ReadDir(projDir)
		for _, file := range files {
			if strings.HasSuffix(file.Name(), ".jsonl") {
				visit(filepath.Join(projDir, file.Name()))
			}
		}
	}
}

// trackFile starts tracking one session file and reports whether it was
// taken on. Subagent files and unapproved projects are rejected before
// parsing; already-tracked sessions are left alone.
func (w *Watcher) trackFile(filePath string, broadcast bool) bool {
	sessionID := sessionIDFromPath(filePath)

	// agent-XXXX files are internal Task tool sessions, not user conversations
	if strings.HasPrefix(sessionID, "agent-") {
		return false
	}

	projectPath := decodeProjectPath(filepath.Base(filepath.Dir(filePath)))
	if w.callbacks.ShouldWatchProject != nil && !w.callbacks.ShouldWatchProject(projectPath) {
		return false
	}

	w.mu.Lock()
	if _, exists := w.sessions[sessionID]; exists {
		w.mu.Unlock()
		return false
	}
	session := w.buildSessionLocked(sessionID, projectPath, filePath)
	w.mu.Unlock()

	if broadcast {
		log.Printf("🆕 New session detected: %s (title: %q, messages: %d)",
			sessionID, session.Title, session.MessageCount)
		if w.callbacks.OnNewSession != nil {
			go w.callbacks.OnNewSession(session)
		}
	}
	return true
}

// buildSessionLocked parses a session file and registers it. Caller
// holds w.mu.
func (w *Watcher) buildSessionLocked(sessionID, projectPath, filePath string) *SessionInfo {
	session := &SessionInfo{
		SessionID:   sessionID,
		ProjectPath: projectPath,
		FilePath:    filePath,
	}
	parseSessionFile(filePath, session)

	// Files whose messages carry no timestamps fall back to mtime
	if session.LastActivity.IsZero() {
		if info, err := os.Stat(filePath); err == nil {
			session.LastActivity = info.ModTime()
		} else {
			session.LastActivity = time.Now()
		}
	}

	if info, err := os.Stat(filePath); err == nil {
		w.tailOffsets[filePath] = info.Size()
	}
	w.sessions[sessionID] = session
	return session
}

// tailFile handles a write notification for a file. Untracked files are
// ignored so unapproved projects never flood the update path.
func (w *Watcher) tailFile(filePath string) {
	w.mu.RLock()
	pos, tracked := w.tailOffsets[filePath]
	w.mu.RUnlock()
	if !tracked {
		return
	}
	w.readNewLines(filePath, pos)
}

func (w *Watcher) readNewLines(filePath string, startPos int64) {
	file, err := os.Open(filePath)
	if err != nil {
		return
	}
	defer file.Close()

	file.Seek(startPos, io.SeekStart)

	sessionID := sessionIDFromPath(filePath)
	reader := bufio.NewReader(file)
	newMessages := 0

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var msg claude.StoredMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			log.Printf("⚠️ Failed to parse message: %v", err)
			continue
		}
		w.applyMessage(sessionID, &msg)
		newMessages++
	}

	if newMessages > 0 {
		w.scheduleUpdate(sessionID)
	}

	if newPos, err := file.Seek(0, io.SeekCurrent); err == nil {
		w.mu.Lock()
		if _, tracked := w.tailOffsets[filePath]; tracked {
			w.tailOffsets[filePath] = newPos
		}
		w.mu.Unlock()
	}
}

// applyMessage folds one freshly tailed message into session metadata.
func (w *Watcher) applyMessage(sessionID string, msg *claude.StoredMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()

	session, ok := w.sessions[sessionID]
	if !ok {
		return
	}

	session.MessageCount++
	session.LastActivity = time.Now()
	session.TotalCostUSD += msg.CostUSD
	if msg.Type == "summary" && msg.Summary != "" {
		session.Title = msg.Summary
	}
	if model := msg.GetModel(); model != "" {
		session.Model = model
	}
}

// scheduleUpdate arms (or re-arms) the debounce timer for a session so
// a burst of writes produces one OnSessionUpdated call.
func (w *Watcher) scheduleUpdate(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.updateTimers[sessionID]; ok {
		timer.Stop()
	}
	w.updateTimers[sessionID] = time.AfterFunc(updateDebounce, func() {
		w.fireUpdate(sessionID)
	})
}

func (w *Watcher) fireUpdate(sessionID string) {
	w.mu.Lock()
	session, ok := w.sessions[sessionID]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.updateTimers, sessionID)
	// Copy so the callback never sees concurrent mutation
	snapshot := *session
	w.mu.Unlock()

	if w.callbacks.OnSessionUpdated != nil {
		w.callbacks.OnSessionUpdated(&snapshot)
	}
}

// GetSessions returns all tracked sessions.
func (w *Watcher) GetSessions() []*SessionInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]*SessionInfo, 0, len(w.sessions))
	for _, s := range w.sessions {
		result = append(result, s)
	}
	return result
}

// ClearProjectSessions drops all tracked state for a project path. Used
// when a folder loses its approval.
func (w *Watcher) ClearProjectSessions(projectPath string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	count := 0
	for sessionID, session := range w.sessions {
		if session.ProjectPath != projectPath {
			continue
		}
		delete(w.tailOffsets, session.FilePath)
		if timer, ok := w.updateTimers[sessionID]; ok {
			timer.Stop()
			delete(w.updateTimers, sessionID)
		}
		delete(w.sessions, sessionID)
		count++
	}

	if count > 0 {
		log.Printf("🗑️ Cleared %d sessions for removed folder %s", count, projectPath)
	}
	return count
}

// ScanProjectSessions indexes every session file of one project at once.
// Used when a folder is newly approved, so its history arrives as a
// batch instead of trickling through the polling sweep.
func (w *Watcher) ScanProjectSessions(projectPath string) []*SessionInfo {
	projDir := filepath.Join(w.projectsRoot, encodeProjectPath(projectPath))

	files, err := os.ReadDir(projDir)
	if err != nil {
		log.Printf("⚠️ Failed to read project dir %s: %v", projDir, err)
		return nil
	}

	// Held across the whole batch so the polling sweep cannot interleave
	w.mu.Lock()
	defer w.mu.Unlock()

	var sessions []*SessionInfo
	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".jsonl") {
			continue
		}
		filePath := filepath.Join(projDir, file.Name())
		sessionID := sessionIDFromPath(filePath)
		if strings.HasPrefix(sessionID, "agent-") {
			continue
		}
		if _, exists := w.sessions[sessionID]; exists {
			continue
		}
		sessions = append(sessions, w.buildSessionLocked(sessionID, projectPath, filePath))
	}

	if len(sessions) > 0 {
		log.Printf("📁 Discovered %d sessions for project %s", len(sessions), projectPath)
	}
	return sessions
}

// GetSessionMessages reads every message of a tracked session file.
func (w *Watcher) GetSessionMessages(sessionID string) ([]*claude.StoredMessage, error) {
	w.mu.RLock()
	session, ok := w.sessions[sessionID]
	w.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	file, err := os.Open(session.FilePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var messages []*claude.StoredMessage
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	for scanner.Scan() {
		var msg claude.StoredMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// parseSessionFile folds a whole session file into metadata: counts,
// cost, model, last activity, and a title. Summary messages name the
// session; otherwise the first message with text does.
func parseSessionFile(filePath string, session *SessionInfo) {
	file, err := os.Open(filePath)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	var titleFallback string

	for scanner.Scan() {
		var msg claude.StoredMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}

		session.MessageCount++
		session.TotalCostUSD += msg.CostUSD

		if msg.Type == "summary" && msg.Summary != "" {
			session.Title = msg.Summary
		} else if titleFallback == "" {
			if content := msg.GetTextContent(); content != "" {
				titleFallback = content
			}
		}

		if model := msg.GetModel(); model != "" {
			session.Model = model
		}
		if msg.Timestamp.After(session.LastActivity) {
			session.LastActivity = msg.Timestamp
		}
	}

	if session.Title == "" && titleFallback != "" {
		session.Title = makeTitle(titleFallback)
	}
}

// makeTitle shortens message text into a session title, breaking at a
// word boundary where one lands in the second half.
func makeTitle(text string) string {
	const maxLen = 60
	if len(text) <= maxLen {
		return text
	}
	cut := text[:maxLen]
	if lastSpace := strings.LastIndex(cut, " "); lastSpace > maxLen/2 {
		cut = cut[:lastSpace]
	}
	return cut + "..."
}

// sessionIDFromPath extracts the session ID from a .jsonl file path.
func sessionIDFromPath(filePath string) string {
	return strings.TrimSuffix(filepath.Base(filePath), ".jsonl")
}

// decodeProjectPath reverses Claude Code's directory naming:
// -Users-jrk-myproject -> /Users/jrk/myproject
func decodeProjectPath(encoded string) string {
	encoded = strings.TrimPrefix(encoded, "-")
	return "/" + strings.ReplaceAll(encoded, "-", "/")
}

// encodeProjectPath maps a project path to its session directory name.
func encodeProjectPath(path string) string {
	return strings.ReplaceAll(path, "/", "-")
}
