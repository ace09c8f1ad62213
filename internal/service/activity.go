package service

import (
	"context"
	"log/slog"

	"github.com/sakif/mochi-mirror/internal/model"
	"github.com/sakif/mochi-mirror/internal/repository"
)

// recordActivity appends entry to the audit trail. The log is advisory: the
// action it describes has already been committed, so a failed insert is
// logged and swallowed rather than failing the request.
func recordActivity(ctx context.Context, repo repository.ActivityRepository, logger *slog.Logger, entry *model.ActivityLogEntry) {
	if err := repo.AppendActivity(ctx, entry); err != nil {
		logger.Error("failed to record activity",
			slog.String("userID", entry.UserID),
			slog.String("title", entry.Title),
			slog.String("error", err.Error()),
		)
	}
}
