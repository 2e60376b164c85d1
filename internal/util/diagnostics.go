package util

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"time"
)

// ProcessInfo holds a snapshot of the running process for diagnostics
type ProcessInfo struct {
	PID         int
	Goroutines  int
	CPUCores    int
	GoVersion   string
	ElapsedTime time.Duration
	HeapInUse   string
	HeapSys     string
	TotalAlloc  string
	NumGC       uint32
}

// GetProcessInfo returns diagnostic information about the running process
func GetProcessInfo(startTime time.Time) ProcessInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ProcessInfo{
		PID:         os.Getpid(),
		Goroutines:  runtime.NumGoroutine(),
		CPUCores:    runtime.NumCPU(),
		GoVersion:   runtime.Version(),
		ElapsedTime: time.Since(startTime),
		HeapInUse:   formatBytes(m.HeapInuse),
		HeapSys:     formatBytes(m.HeapSys),
		TotalAlloc:  formatBytes(m.TotalAlloc),
		NumGC:       m.NumGC,
	}
}

// StartDiagnosticMonitor starts a goroutine that periodically logs
// runtime diagnostics. Close the returned channel to stop it.
func StartDiagnosticMonitor(startTime time.Time, interval time.Duration) chan struct{} {
	stopChan := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stopChan:
				return
			case <-ticker.C:
				info := GetProcessInfo(startTime)
				log.Printf("DIAGNOSTIC: Goroutines: %d, Memory: %s/%s, GC cycles: %d",
					info.Goroutines, info.HeapInUse, info.HeapSys, info.NumGC)
			}
		}
	}()

	return stopChan
}

// LogFullDiagnostics logs detailed diagnostic information
func LogFullDiagnostics(startTime time.Time) {
	info := GetProcessInfo(startTime)

	log.Printf("===== DIAGNOSTIC REPORT =====")
	log.Printf("PID: %d", info.PID)
	log.Printf("Go version: %s", info.GoVersion)
	log.Printf("CPU cores: %d", info.CPUCores)
	log.Printf("Goroutines: %d", info.Goroutines)
	log.Printf("Runtime: %s", info.ElapsedTime.Round(time.Second))
	log.Printf("Heap in use: %s (sys %s)", info.HeapInUse, info.HeapSys)
	log.Printf("Total allocated: %s", info.TotalAlloc)
	log.Printf("GC cycles: %d", info.NumGC)
	log.Printf("============================")
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
