package handler

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/export"
	"qrattend/internal/geo"
	"qrattend/internal/qr"
)

type createSessionRequest struct {
	SubjectCode   string     `json:"subject_code" binding:"required,notblank"`
	ExpiryMinutes int        `json:"expiry_minutes" binding:"gte=0,lte=1440"`
	Reference     *geo.Point `json:"reference"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	ctx := c.Request.Context()

	sess, err := h.att.CreateSession(ctx, req.SubjectCode, req.ExpiryMinutes, claims.Subject, req.Reference)
	if err != nil {
		writeError(c, err)
		return
	}
	payload, err := qr.Encode(sess)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.images != nil {
		if url, err := h.hostQR(c, sess); err != nil {
			log.Printf("qr upload for session %s failed: %v", sess.SessionID, err)
		} else {
			sess.QRImageURL = url
		}
	}

	c.JSON(http.StatusCreated, gin.H{"session": sess, "qr_payload": string(payload)})
}

func (h *Handler) hostQR(c *gin.Context, sess attendance.Session) (string, error) {
	png, err := qr.PNG(sess, qr.DefaultSize)
	if err != nil {
		return "", err
	}
	res, err := h.images.UploadPNG(c.Request.Context(), png, sess.SessionID)
	if err != nil {
		return "", err
	}
	if err := h.att.AttachQRImage(c.Request.Context(), sess.SessionID, res.SecureURL); err != nil {
		return "", err
	}
	return res.SecureURL, nil
}

// sessionFilter reads ?subject= and ?date=YYYY-MM-DD. Dates are UTC days.
func sessionFilter(c *gin.Context) (attendance.SessionFilter, error) {
	f := attendance.SessionFilter{SubjectCode: strings.TrimSpace(c.Query("subject"))}
	if v := c.Query("date"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return f, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
		}
		f.Date = d
	}
	return f, nil
}

func studentFilter(c *gin.Context) attendance.StudentFilter {
	return attendance.StudentFilter{
		Query:        strings.TrimSpace(c.Query("q")),
		DepartmentID: strings.TrimSpace(c.Query("department_id")),
	}
}

func (h *Handler) listSessions(c *gin.Context) {
	f, err := sessionFilter(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	sessions, err := h.att.ListSessions(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": nonNil(sessions)})
}

func (h *Handler) getSession(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := h.att.GetSession(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	records, err := h.att.ListRecords(ctx, attendance.RecordFilter{SessionID: sess.SessionID})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "records": nonNil(records)})
}

func (h *Handler) deleteSession(c *gin.Context) {
	removed, err := h.att.DeleteSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed_records": removed})
}

func (h *Handler) sessionQR(c *gin.Context) {
	sess, err := h.att.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	size := qr.DefaultSize
	if v := c.Query("size"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 64 && parsed <= 1024 {
			size = parsed
		}
	}
	png, err := qr.PNG(sess, size)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func recordFilter(c *gin.Context) attendance.RecordFilter {
	return attendance.RecordFilter{SessionID: c.Query("session_id"), RegNo: c.Query("reg_no")}
}

func (h *Handler) listRecords(c *gin.Context) {
	records, err := h.att.ListRecords(c.Request.Context(), recordFilter(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": nonNil(records)})
}

type updateRecordRequest struct {
	Status attendance.Status `json:"status" binding:"required"`
}

func (h *Handler) updateRecord(c *gin.Context) {
	var req updateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.att.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *Handler) deleteRecord(c *gin.Context) {
	if err := h.att.DeleteRecord(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type studentRequest struct {
	Name         string `json:"name" binding:"required,notblank"`
	RegNo        string `json:"reg_no" binding:"required,notblank"`
	DepartmentID string `json:"department_id" binding:"required,notblank"`
	Email        string `json:"email" binding:"omitempty,email"`
}

func (h *Handler) createStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.att.CreateStudent(c.Request.Context(), attendance.Student(req))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"student": st})
}

func (h *Handler) listStudents(c *gin.Context) {
	students, err := h.att.ListStudents(c.Request.Context(), studentFilter(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": nonNil(students)})
}

type updateStudentRequest struct {
	Name         string `json:"name" binding:"required,notblank"`
	DepartmentID string `json:"department_id" binding:"required,notblank"`
	Email        string `json:"email" binding:"omitempty,email"`
}

func (h *Handler) updateStudent(c *gin.Context) {
	var req updateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.att.UpdateStudent(c.Request.Context(), attendance.Student{
		Name:         req.Name,
		RegNo:        c.Param("regNo"),
		DepartmentID: req.DepartmentID,
		Email:        req.Email,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": st})
}

func (h *Handler) deleteStudent(c *gin.Context) {
	removed, err := h.att.DeleteStudent(c.Request.Context(), c.Param("regNo"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed_records": removed})
}

func (h *Handler) exportAttendance(c *gin.Context) {
	records, err := h.att.ListRecords(c.Request.Context(), recordFilter(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeCSV(c, "attendance.csv", func(w io.Writer) error { return export.Attendance(w, records) })
}

func (h *Handler) exportSessions(c *gin.Context) {
	f, err := sessionFilter(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	sessions, err := h.att.ListSessions(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	writeCSV(c, "sessions.csv", func(w io.Writer) error { return export.Sessions(w, sessions) })
}

func (h *Handler) exportStudents(c *gin.Context) {
	students, err := h.att.ListStudents(c.Request.Context(), studentFilter(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeCSV(c, "students.csv", func(w io.Writer) error { return export.Students(w, students) })
}

func writeCSV(c *gin.Context, filename string, write func(io.Writer) error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
