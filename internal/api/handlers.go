package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/driftarr/driftarr/internal/history"
	"github.com/driftarr/driftarr/internal/importer"
)

type errorResponse struct {
	Error string `json:"error"`
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// triggerScan queues a library rescan, for one artist when artistId is
// given.
func (s *Server) triggerScan(c echo.Context) error {
	ctx := c.Request().Context()

	if idParam := c.QueryParam("artistId"); idParam != "" {
		id, err := strconv.ParseInt(idParam, 10, 64)
		if err != nil {
			return badRequest(c, "invalid artistId")
		}
		artist, err := s.library.GetArtist(ctx, id)
		if err != nil {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "artist not found"})
		}
		if err := s.scanner.Scan(ctx, artist); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "scanned"})
	}

	if err := s.scheduler.RunNow("rescan"); err != nil {
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) listTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, s.scheduler.ListTasks())
}

func (s *Server) manualImportPreview(c echo.Context) error {
	path := c.QueryParam("folder")
	if path == "" {
		return badRequest(c, "folder is required")
	}
	var artistID int64
	if idParam := c.QueryParam("artistId"); idParam != "" {
		var err error
		artistID, err = strconv.ParseInt(idParam, 10, 64)
		if err != nil {
			return badRequest(c, "invalid artistId")
		}
	}
	items, err := s.manual.GetMediaFiles(c.Request().Context(), path, artistID)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, items)
}

type reprocessRequest struct {
	ArtistID int64 `json:"artistId"`
	AlbumID  int64 `json:"albumId"`
}

func (s *Server) manualImportReprocess(c echo.Context) error {
	var req reprocessRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ArtistID == 0 {
		return badRequest(c, "artistId is required")
	}
	item, err := s.manual.ReprocessItem(c.Request().Context(), c.Param("id"), req.ArtistID, req.AlbumID)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, item)
}

type commitRequest struct {
	ItemIDs []string `json:"itemIds"`
	Mode    string   `json:"mode"`
}

type commitResult struct {
	Path   string   `json:"path"`
	Result string   `json:"result"`
	Errors []string `json:"errors,omitempty"`
}

func (s *Server) manualImportCommit(c echo.Context) error {
	var req commitRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.ItemIDs) == 0 {
		return badRequest(c, "itemIds is required")
	}

	mode := importer.Auto
	switch req.Mode {
	case "", "auto":
	case "move":
		mode = importer.Move
	case "copy":
		mode = importer.Copy
	default:
		return badRequest(c, "mode must be auto, move or copy")
	}

	results, err := s.manual.Commit(c.Request().Context(), req.ItemIDs, mode)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	}

	out := make([]commitResult, len(results))
	for i, r := range results {
		out[i] = commitResult{
			Path:   r.Decision.Item.Path,
			Result: r.Kind().String(),
			Errors: r.Errors,
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getHistory(c echo.Context) error {
	ctx := c.Request().Context()
	eventType := history.EventType(c.QueryParam("eventType"))

	if idParam := c.QueryParam("albumId"); idParam != "" {
		id, err := strconv.ParseInt(idParam, 10, 64)
		if err != nil {
			return badRequest(c, "invalid albumId")
		}
		records, err := s.history.GetByAlbum(ctx, id, eventType)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, records)
	}

	idParam := c.QueryParam("artistId")
	if idParam == "" {
		return badRequest(c, "artistId or albumId is required")
	}
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		return badRequest(c, "invalid artistId")
	}
	records, err := s.history.GetByArtist(ctx, id, eventType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) getHistorySince(c echo.Context) error {
	since, err := time.Parse(time.RFC3339, c.QueryParam("date"))
	if err != nil {
		return badRequest(c, "date must be RFC3339")
	}
	records, err := s.history.Since(c.Request().Context(), since)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, records)
}

type queueItem struct {
	DownloadID string `json:"downloadId,omitempty"`
	QueueID    int64  `json:"queueId,omitempty"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	ArtistID   int64  `json:"artistId,omitempty"`
	AlbumID    int64  `json:"albumId,omitempty"`
	Pending    bool   `json:"pending"`
}

// getQueue merges active tracked downloads with pending releases held for
// re-evaluation.
func (s *Server) getQueue(c echo.Context) error {
	var queue []queueItem

	for _, td := range s.tracked.All() {
		queue = append(queue, queueItem{
			DownloadID: td.DownloadID,
			Title:      td.Title,
			Status:     td.State.String(),
			Message:    td.StatusMessage,
			ArtistID:   td.ArtistID,
			AlbumID:    td.AlbumID,
		})
	}

	pending, err := s.pending.GetPendingQueue(c.Request().Context())
	if err != nil {
		return err
	}
	for _, p := range pending {
		queue = append(queue, queueItem{
			QueueID:  p.QueueID,
			Title:    p.Title,
			Status:   "pending",
			Message:  p.Reason,
			ArtistID: p.ArtistID,
			AlbumID:  p.AlbumID,
			Pending:  true,
		})
	}
	return c.JSON(http.StatusOK, queue)
}

func (s *Server) removeQueueItem(c echo.Context) error {
	downloadID := c.Param("downloadId")
	if !s.tracking.Ignore(c.Request().Context(), downloadID, "Removed from queue") {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "download not tracked"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) removePendingItem(c echo.Context) error {
	queueID, err := strconv.ParseInt(c.Param("queueId"), 10, 64)
	if err != nil {
		return badRequest(c, "invalid queueId")
	}
	if err := s.pending.RemovePendingQueueItems(c.Request().Context(), queueID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type rejectPendingRequest struct {
	ArtistID    int64     `json:"artistId"`
	Title       string    `json:"title"`
	Indexer     string    `json:"indexer"`
	PublishDate time.Time `json:"publishDate"`
}

// rejectPending drops a pending release the caller's sync has permanently
// rejected, identified by release rather than queue id.
func (s *Server) rejectPending(c echo.Context) error {
	var req rejectPendingRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ArtistID == 0 || req.Title == "" {
		return badRequest(c, "artistId and title are required")
	}
	if err := s.pending.RemoveRejected(c.Request().Context(), req.ArtistID, req.Title, req.Indexer, req.PublishDate); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
