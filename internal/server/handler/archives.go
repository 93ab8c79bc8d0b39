package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/levfarm/internal/domain"
)

// ArchiveLister lists cold-storage archives by kind.
type ArchiveLister interface {
	Archives(ctx context.Context, kind string) ([]domain.ArchiveObject, error)
}

// ArchivesHandler serves the archive index.
type ArchivesHandler struct {
	lister ArchiveLister
	logger *slog.Logger
}

// NewArchivesHandler creates an ArchivesHandler.
func NewArchivesHandler(lister ArchiveLister, logger *slog.Logger) *ArchivesHandler {
	return &ArchivesHandler{lister: lister, logger: logger}
}

// ListArchives returns the archive objects of one kind, oldest first.
// GET /api/archives?kind=audit_log
func (h *ArchivesHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	switch kind {
	case "":
		kind = domain.ArchiveKindSnapshots
	case domain.ArchiveKindSnapshots, domain.ArchiveKindAudit:
	default:
		writeError(w, http.StatusBadRequest, "kind must be price_snapshots or audit_log")
		return
	}

	objs, err := h.lister.Archives(r.Context(), kind)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "list archives failed")
		return
	}
	if objs == nil {
		objs = []domain.ArchiveObject{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "archives": objs})
}
