package handler

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/geo"
	"qrattend/internal/qr"
	"qrattend/internal/queue"
)

func (h *Handler) activeSessions(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	sessions, err := h.att.ActiveSessions(c.Request.Context(), claims.Dept)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": nonNil(sessions)})
}

type markRequest struct {
	SessionID string     `json:"session_id" binding:"required,notblank"`
	Location  *geo.Point `json:"location"`
}

func (h *Handler) markAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.admit(c, req.SessionID, req.Location)
}

type scanRequest struct {
	Payload  string     `json:"payload" binding:"required"`
	Location *geo.Point `json:"location"`
}

func (h *Handler) scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := qr.Decode(req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}
	h.admit(c, p.SessionID, req.Location)
}

func (h *Handler) admit(c *gin.Context, sessionID string, loc *geo.Point) {
	claims, _ := auth.ClaimsFrom(c)
	adm, err := h.att.Admit(c.Request.Context(), attendance.Submission{
		SessionID:    sessionID,
		RegNo:        claims.Subject,
		DepartmentID: claims.Dept,
		Location:     loc,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if adm.Record.Status == attendance.StatusFlagged {
		h.publishFlagged(c.Request.Context(), adm)
	}

	body := gin.H{"record": adm.Record}
	if adm.Distance != nil {
		body["distance_m"] = *adm.Distance
	}
	if adm.Notice != "" {
		body["notice"] = adm.Notice
		body["message"] = adm.Notice.Message()
	}
	c.JSON(http.StatusCreated, body)
}

// publishFlagged never fails the admission: the record is already stored, so
// a slow or full queue only costs the notification.
func (h *Handler) publishFlagged(ctx context.Context, adm attendance.Admission) {
	if h.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.publishTimeout)
	defer cancel()
	evt := queue.Flagged{
		RecordID:    adm.Record.ID,
		SessionID:   adm.Record.SessionID,
		SubjectCode: adm.Session.SubjectCode,
		RegNo:       adm.Record.RegNo,
		CreatedBy:   adm.Session.CreatedBy,
		RecordedAt:  adm.Record.Timestamp,
	}
	if adm.Distance != nil {
		evt.DistanceM = *adm.Distance
	}
	msg, err := queue.NewMessage(queue.TypeFlagged, evt)
	if err == nil {
		err = h.queue.Publish(ctx, msg)
	}
	if err != nil {
		log.Printf("queue publish failed for record %s: %v", adm.Record.ID, err)
	}
}

func (h *Handler) summary(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	sum, err := h.att.StudentSummary(c.Request.Context(), claims.Subject, claims.Dept)
	if err != nil {
		writeError(c, err)
		return
	}
	if sum.Records == nil {
		sum.Records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, sum)
}
