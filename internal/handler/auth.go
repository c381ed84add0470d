package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"qrattend/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) adminLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.admin.Check(req.Email, req.Password); err != nil {
		writeError(c, err)
		return
	}
	pair, err := h.tokens.Issue(h.admin.Email(), auth.RoleAdmin, "")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

type otpRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *Handler) sendOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.otp.Send(c.Request.Context(), req.Email); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OTP sent successfully"})
}

type verifyRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,len=6,numeric"`
	RegNo string `json:"reg_no" binding:"required,notblank"`
}

func (h *Handler) verifyOTP(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.otp.Verify(ctx, req.Email, req.Code); err != nil {
		writeError(c, err)
		return
	}
	st, err := h.att.GetStudent(ctx, req.RegNo)
	if err != nil {
		writeError(c, err)
		return
	}
	if st.Email == "" || st.Email != strings.ToLower(strings.TrimSpace(req.Email)) {
		writeError(c, errEmailMismatch)
		return
	}
	pair, err := h.tokens.Issue(st.RegNo, auth.RoleStudent, st.DepartmentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": st, "tokens": pair})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pair, err := h.tokens.Refresh(req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}
