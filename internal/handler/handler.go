// Package handler exposes the attendance service over HTTP.
package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/cloudinary"
	"qrattend/internal/mailer"
	"qrattend/internal/otp"
	"qrattend/internal/qr"
	"qrattend/internal/queue"
)

// ImageHost uploads rendered QR codes. *cloudinary.Client satisfies it.
type ImageHost interface {
	UploadPNG(ctx context.Context, png []byte, publicID string) (*cloudinary.UploadResult, error)
}

// DefaultPublishTimeout bounds how long an admission waits on the queue.
const DefaultPublishTimeout = 500 * time.Millisecond

// Deps are the collaborators a Handler needs. Queue, Images and OTPLimit are
// optional. OTPLimit guards both OTP send and verify.
type Deps struct {
	Attendance *attendance.Service
	OTP        *otp.Service
	Admin      *auth.Admin
	Tokens     auth.Issuer
	Queue      queue.Queue
	Images     ImageHost
	OTPLimit   gin.HandlerFunc
	Checks     map[string]func(context.Context) bool

	// PublishTimeout defaults to DefaultPublishTimeout.
	PublishTimeout time.Duration
}

// Handler serves the REST API.
type Handler struct {
	att      *attendance.Service
	otp      *otp.Service
	admin    *auth.Admin
	tokens   auth.Issuer
	queue    queue.Queue
	images   ImageHost
	otpLimit gin.HandlerFunc
	checks   map[string]func(context.Context) bool

	publishTimeout time.Duration
}

// New creates a Handler.
func New(d Deps) *Handler {
	registerValidators()
	publishTimeout := d.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = DefaultPublishTimeout
	}
	return &Handler{
		att:      d.Attendance,
		otp:      d.OTP,
		admin:    d.Admin,
		tokens:   d.Tokens,
		queue:    d.Queue,
		images:   d.Images,
		otpLimit: d.OTPLimit,
		checks:   d.Checks,

		publishTimeout: publishTimeout,
	}
}

var validatorsOnce sync.Once

func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
			log.Printf("register notblank validator: %v", err)
		}
	})
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	pub := r.Group("/v1/auth")
	pub.POST("/admin/login", h.adminLogin)
	if h.otpLimit != nil {
		pub.POST("/otp", h.otpLimit, h.sendOTP)
		pub.POST("/otp/verify", h.otpLimit, h.verifyOTP)
	} else {
		pub.POST("/otp", h.sendOTP)
		pub.POST("/otp/verify", h.verifyOTP)
	}
	pub.POST("/refresh", h.refresh)

	admin := r.Group("/v1/admin", auth.Require(h.tokens, auth.RoleAdmin))
	admin.POST("/sessions", h.createSession)
	admin.GET("/sessions", h.listSessions)
	admin.GET("/sessions/:id", h.getSession)
	admin.DELETE("/sessions/:id", h.deleteSession)
	admin.GET("/sessions/:id/qr.png", h.sessionQR)
	admin.GET("/records", h.listRecords)
	admin.PATCH("/records/:id", h.updateRecord)
	admin.DELETE("/records/:id", h.deleteRecord)
	admin.POST("/students", h.createStudent)
	admin.GET("/students", h.listStudents)
	admin.PUT("/students/:regNo", h.updateStudent)
	admin.DELETE("/students/:regNo", h.deleteStudent)
	admin.GET("/export/attendance.csv", h.exportAttendance)
	admin.GET("/export/sessions.csv", h.exportSessions)
	admin.GET("/export/students.csv", h.exportStudents)

	student := r.Group("/v1/student", auth.Require(h.tokens, auth.RoleStudent))
	student.GET("/sessions", h.activeSessions)
	student.POST("/attendance", h.markAttendance)
	student.POST("/scan", h.scan)
	student.GET("/summary", h.summary)
}

func (h *Handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

var errEmailMismatch = errors.New("email is not registered to this student")

var errorStatus = []struct {
	err    error
	status int
}{
	{attendance.ErrSessionNotFound, http.StatusNotFound},
	{attendance.ErrSessionExpired, http.StatusGone},
	{attendance.ErrAlreadyMarked, http.StatusConflict},
	{attendance.ErrStudentNotFound, http.StatusNotFound},
	{attendance.ErrRecordNotFound, http.StatusNotFound},
	{attendance.ErrStudentExists, http.StatusConflict},
	{attendance.ErrSessionExists, http.StatusConflict},
	{attendance.ErrInvalidStatus, http.StatusBadRequest},
	{attendance.ErrInvalidInput, http.StatusBadRequest},
	{qr.ErrInvalidQRCode, http.StatusBadRequest},
	{mailer.ErrDelivery, http.StatusBadGateway},
	{otp.ErrCooldown, http.StatusTooManyRequests},
	{otp.ErrInvalidEmail, http.StatusBadRequest},
	{otp.ErrInvalid, http.StatusUnauthorized},
	{otp.ErrExpired, http.StatusUnauthorized},
	{otp.ErrTooManyAttempts, http.StatusUnauthorized},
	{errEmailMismatch, http.StatusUnauthorized},
	{auth.ErrBadCredentials, http.StatusUnauthorized},
	{auth.ErrInvalidToken, http.StatusUnauthorized},
	{auth.ErrWrongTokenUse, http.StatusUnauthorized},
}

// writeError maps domain errors to a status and a JSON body. Anything
// unrecognised is logged and reported as a 500 without details.
func writeError(c *gin.Context, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			c.JSON(e.status, gin.H{"error": err.Error()})
			return
		}
	}
	log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
