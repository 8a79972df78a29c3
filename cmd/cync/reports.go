package main

import (
	"log/slog"

	"github.com/goodCoderXD/cync/internal/sync"
)

// printReports surfaces engine activity on the console log. The engine
// drops reports if this falls behind, so no backpressure here.
func printReports(reports <-chan sync.SyncReport) {
	for rep := range reports {
		switch rep.Kind {
		case sync.ReportSynced:
			slog.Info("synced", "path", rep.Path, "action", rep.Action, "origin", rep.Origin)
		case sync.ReportConflict:
			slog.Warn("conflict", "path", rep.Path, "winner", rep.Winner, "backup", rep.Backup)
		case sync.ReportError:
			slog.Error("sync failed", "path", rep.Path, "action", rep.Action, "error", rep.Err)
		case sync.ReportConnState:
			slog.Info("connection", "state", rep.State)
		}
	}
}
