package agent

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/zkw15555506767-boop/CodeNova/internal/api"
	"github.com/zkw15555506767-boop/CodeNova/internal/claude"
	"github.com/zkw15555506767-boop/CodeNova/internal/config"
	"github.com/zkw15555506767-boop/CodeNova/internal/permission"
	"github.com/zkw15555506767-boop/CodeNova/internal/session"
	"github.com/zkw15555506767-boop/CodeNova/internal/ui"
	"github.com/zkw15555506767-boop/CodeNova/internal/watcher"
	ws "github.com/zkw15555506767-boop/CodeNova/internal/websocket"
)

// messageSender is the outbound side of the UI channel. The concrete
// websocket client satisfies it; tests substitute a recorder.
type messageSender interface {
	SendMessage(msg *ws.Message) error
}

// Agent is the main daemon hub. It routes UI messages to the chat and
// agent subsystems, owns the permission gate and session registry, and
// manages folder approvals, the tray, and the session watcher.
type Agent struct {
	cfg       *config.Config
	creds     config.Credentials
	ws        messageSender
	wsClient  *ws.Client
	tray      *ui.TrayUI
	isRunning bool
	headless  bool

	apiClient *api.Client
	chats     map[string]*api.Conversation // conversation_id -> conversation
	chatsMu   sync.Mutex

	registry *session.Registry
	gate     *permission.Gate

	// Test seam for the agent loop; nil means use claude.NewRunner
	newRunner func(opts claude.RunnerOptions) agentRunner

	sessionWatcher *watcher.Watcher // Watches ~/.claude/projects for external sessions

	// UI presence tracking (for skipping broadcasts when no listeners)
	uiOnline bool
}

// New creates a new agent instance.
func New(headless bool, dev bool) (*Agent, error) {
	cfg, err := config.Load(dev)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &Agent{
		cfg:       cfg,
		creds:     config.LoadCredentials(),
		headless:  headless,
		apiClient: api.NewClient(),
		chats:     make(map[string]*api.Conversation),
		registry:  session.NewRegistry(),
	}
	a.gate = permission.NewGate(a.sendPermissionRequest)
	return a, nil
}

// Start starts the agent and all its subsystems.
func (a *Agent) Start() error {
	log.Println("🚀 CodeNova Desktop Daemon starting...")

	if a.creds.APIKey == "" {
		log.Println("⚠️ No API credentials in ~/.claude/settings.json - chat requires per-request overrides")
	}

	// Ensure we have a device ID
	if a.cfg.DeviceID == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "desktop"
		}
		a.cfg.DeviceID = fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
		a.cfg.Save()
	}

	// Create WebSocket client for the UI channel
	a.wsClient = ws.NewClient(a.cfg.UIURL, a.cfg.DeviceID, a.handleMessage)
	a.ws = a.wsClient

	// Create system tray UI (only if not headless)
	if !a.headless {
		a.tray = ui.NewTrayUI(a.cfg)
		a.tray.SetCallbacks(a.handleFolderAdd, a.handleFolderRemove, a.handleQuit)
	}

	// Connect to the UI in background
	go func() {
		a.wsClient.ConnectWithRetry()

		if a.wsClient.IsConnected() {
			if a.tray != nil {
				a.tray.UpdateConnectionStatus(true)
			}

			// Wait for connection to stabilize before sending folder list
			time.Sleep(100 * time.Millisecond)
			a.sendFolderListUpdate()
		}
	}()

	// Initialize session watcher for external Claude Code sessions
	a.initSessionWatcher()

	a.isRunning = true

	// Start system tray (blocks until quit) or wait for signal in headless mode
	if a.headless {
		log.Println("✅ Running in headless mode - press Ctrl+C to stop")
		a.waitForShutdown()
	} else {
		a.tray.Start()
	}

	return nil
}

// waitForShutdown blocks until a shutdown signal is received (for headless mode).
func (a *Agent) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("Received signal: %v", sig)

	a.handleQuit()
}

// handleQuit handles quit request and cleans up all resources.
func (a *Agent) handleQuit() {
	log.Println("Shutting down...")

	// Abort any running agent sessions so child processes don't outlive us
	for _, streamID := range a.registry.Active() {
		a.registry.Abort(streamID)
	}

	// Cancel any streaming chat turns
	a.chatsMu.Lock()
	for _, conv := range a.chats {
		conv.Cancel()
	}
	a.chatsMu.Unlock()

	if a.sessionWatcher != nil {
		a.sessionWatcher.Stop()
	}

	if a.wsClient != nil {
		a.wsClient.Close()
	}

	a.isRunning = false
}
