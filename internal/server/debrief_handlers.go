package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/intentions/internal/debrief"
	"github.com/MarcoPoloResearchLab/intentions/internal/richtext"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type debriefResponsePayload struct {
	Date       string `json:"date"`
	DocumentID string `json:"documentId,omitempty"`
	Document   string `json:"document"`
	Text       string `json:"text"`
	Title      string `json:"title"`
	WordCount  int    `json:"wordCount"`
	State      string `json:"state"`
	Dirty      bool   `json:"dirty"`
	LastError  string `json:"lastError,omitempty"`
}

func (h *httpHandler) respondDebrief(c *gin.Context, snapshot debrief.Snapshot) {
	encoded, err := richtext.Encode(snapshot.Draft)
	if err != nil {
		h.respondError(c, "debrief.encode", err)
		return
	}
	payload := debriefResponsePayload{
		Date:       snapshot.Day,
		DocumentID: snapshot.DocumentID,
		Document:   encoded,
		Text:       richtext.PlainText(snapshot.Draft),
		Title:      snapshot.Title,
		WordCount:  snapshot.WordCount,
		State:      string(snapshot.State),
		Dirty:      snapshot.Dirty,
	}
	if snapshot.LastError != nil {
		payload.LastError = snapshot.LastError.Error()
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) editor(c *gin.Context) (*debrief.Editor, bool) {
	workspace, ok := h.workspace(c)
	if !ok {
		return nil, false
	}
	return workspace.Debrief, true
}

func (h *httpHandler) handleOpenDebrief(c *gin.Context) {
	editor, ok := h.editor(c)
	if !ok {
		return
	}
	day, ok := h.activeDate(c)
	if !ok {
		return
	}
	snapshot, err := editor.Open(c.Request.Context(), day)
	if err != nil {
		h.respondError(c, "debrief.open", err)
		return
	}
	h.respondDebrief(c, snapshot)
}

type debriefDocumentPayload struct {
	Document string `json:"document"`
}

func (h *httpHandler) handleSetDebrief(c *gin.Context) {
	editor, ok := h.editor(c)
	if !ok {
		return
	}
	var request debriefDocumentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	doc, err := richtext.DecodeOrEmpty(request.Document)
	if err != nil {
		h.respondError(c, "debrief.set", err)
		return
	}
	snapshot, err := editor.SetDraft(c.Request.Context(), doc)
	if err != nil {
		h.respondError(c, "debrief.set", err)
		return
	}
	h.respondDebrief(c, snapshot)
}

type debriefEditPayload struct {
	Start  int    `json:"start"`
	Length int    `json:"length"`
	Text   string `json:"text"`
}

func (h *httpHandler) handleEditDebrief(c *gin.Context) {
	editor, ok := h.editor(c)
	if !ok {
		return
	}
	var request debriefEditPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	target := richtext.Range{Start: request.Start, Length: request.Length}
	snapshot, err := editor.Replace(c.Request.Context(), target, request.Text)
	if err != nil {
		h.respondError(c, "debrief.edit", err)
		return
	}
	h.respondDebrief(c, snapshot)
}

type debriefFormatPayload struct {
	Style  string `json:"style"`
	Start  int    `json:"start"`
	Length int    `json:"length"`
}

func (h *httpHandler) handleFormatDebrief(c *gin.Context) {
	editor, ok := h.editor(c)
	if !ok {
		return
	}
	var request debriefFormatPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	selection := richtext.Range{Start: request.Start, Length: request.Length}
	ctx := c.Request.Context()

	var (
		snapshot debrief.Snapshot
		err      error
	)
	switch strings.ToLower(strings.TrimSpace(request.Style)) {
	case "bold":
		snapshot, err = editor.ToggleBold(ctx, selection)
	case "italic":
		snapshot, err = editor.ToggleItalic(ctx, selection)
	case "underline":
		snapshot, err = editor.ToggleUnderline(ctx, selection)
	case "bullet":
		snapshot, err = editor.ToggleBullet(ctx, selection)
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_style"})
		return
	}
	if err != nil {
		h.respondError(c, "debrief.format", err)
		return
	}
	h.respondDebrief(c, snapshot)
}

func (h *httpHandler) handleSaveDebrief(c *gin.Context) {
	editor, ok := h.editor(c)
	if !ok {
		return
	}
	snapshot, err := editor.Save(c.Request.Context())
	if err != nil {
		h.respondError(c, "debrief.save", err)
		return
	}
	h.respondDebrief(c, snapshot)
}

// handleCloseDebrief flushes the draft and retires the editor with the rest of the workspace;
// the next request opens a fresh one.
func (h *httpHandler) handleCloseDebrief(c *gin.Context) {
	editor, ok := h.editor(c)
	if !ok {
		return
	}
	snapshot := editor.Snapshot()
	userID := c.GetString(userIDContextKey)
	if err := h.workspaces.Close(c.Request.Context(), userID); err != nil {
		h.respondError(c, "debrief.close", err)
		return
	}
	h.logger.Debug("debrief closed", zap.String("user_id", userID), zap.String("date", snapshot.Day))
	h.respondDebrief(c, editor.Snapshot())
}

func (h *httpHandler) handleExportDebrief(c *gin.Context) {
	editor, ok := h.editor(c)
	if !ok {
		return
	}
	snapshot := editor.Snapshot()
	if snapshot.Day == "" {
		h.respondError(c, "debrief.export", debrief.ErrNoActiveDay)
		return
	}
	if c.Query("format") == "markdown" {
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(h.renderer.Markdown(snapshot.Draft)))
		return
	}
	rendered, err := h.renderer.Render(snapshot.Draft)
	if err != nil {
		h.respondError(c, "debrief.export", err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(rendered))
}
