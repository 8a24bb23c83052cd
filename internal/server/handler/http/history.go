package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/atinyakov/GophStego/internal/middleware"
	"github.com/atinyakov/GophStego/internal/models"
)

// HistoryService defines the history query required by the HistoryHandler.
type HistoryService interface {
	// List returns the records matching filter, newest first.
	List(ctx context.Context, filter models.HistoryFilter) ([]models.OperationRecord, error)
}

// HistoryHandler serves the operation history of the calling client.
type HistoryHandler struct {
	History HistoryService
}

// List handles GET /api/history. Query parameters:
//
//	limit     - maximum number of records (default models.DefaultHistoryLimit)
//	operation - comma separated operations to keep (embed,extract,peek,keygen)
//
// Only records of the calling actor are returned.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := models.HistoryFilter{Actor: middleware.GetActorFromContext(r.Context())}

	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, fmt.Errorf("%w: bad limit %q", models.ErrInvalidInput, v))
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("operation"); v != "" {
		for _, op := range strings.Split(v, ",") {
			switch o := models.Operation(strings.TrimSpace(op)); o {
			case models.OpEmbed, models.OpExtract, models.OpPeek, models.OpKeygen, models.OpDetect:
				filter.Operations = append(filter.Operations, o)
			default:
				writeError(w, fmt.Errorf("%w: unknown operation %q", models.ErrInvalidInput, op))
				return
			}
		}
	}

	records, err := h.History.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
