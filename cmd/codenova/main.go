package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/zkw15555506767-boop/CodeNova/internal/agent"
)

// Version info - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	// Parse command line flags
	headless := flag.Bool("headless", false, "Run without the system tray (servers and CI)")
	dev := flag.Bool("dev", false, "Run in development mode (connect to local UI dev server)")
	version := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	// Handle version flag
	if *version {
		fmt.Printf("CodeNova Desktop Daemon\n")
		fmt.Printf("  Version:    %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	log.Println("===========================================")
	log.Printf("   CodeNova Desktop Daemon %s", Version)
	log.Println("===========================================")

	if *headless {
		log.Println("🔧 Running in headless mode (no GUI)")
	}
	if *dev {
		log.Println("🔧 Running in development mode (local UI dev server)")
	}

	// Create agent
	a, err := agent.New(*headless, *dev)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	// Start agent (blocks until quit)
	if err := a.Start(); err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}

	log.Println("Daemon stopped")
	os.Exit(0)
}
