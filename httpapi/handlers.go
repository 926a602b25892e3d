package httpapi

import (
	"net/http"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password"`
	// EncryptedPassword is sealed to the key served by /auth/public-key and
	// takes precedence over Password.
	EncryptedPassword string `json:"encrypted_password"`
	DeviceToken       string `json:"device_token"`
}

type loginResponse struct {
	Status      string     `json:"status"`
	Email       string     `json:"email"`
	Role        string     `json:"role,omitempty"`
	AccessToken string     `json:"access_token,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	DeviceToken string     `json:"device_token,omitempty"`
	Method      string     `json:"method,omitempty"`
	ChallengeID string     `json:"challenge_id,omitempty"`
}

func toLoginResponse(res *goGuard.LoginResult) loginResponse {
	out := loginResponse{
		Status:      string(res.Status),
		Email:       res.Email,
		Role:        res.Role,
		AccessToken: res.AccessToken,
		DeviceToken: res.DeviceToken,
		Method:      string(res.Method),
		ChallengeID: res.ChallengeID,
	}
	if !res.ExpiresAt.IsZero() {
		exp := res.ExpiresAt.UTC()
		out.ExpiresAt = &exp
	}
	return out
}

// secret returns the plaintext or the decrypted form of an optional sealed value.
func (h *handler) secret(plain, sealed string) (string, bool) {
	if sealed == "" {
		return plain, true
	}
	b, err := h.svc.Decrypt(sealed)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	password, ok := h.secret(req.Password, req.EncryptedPassword)
	if !ok {
		badRequest(c, "encrypted_password could not be decrypted")
		return
	}

	res, err := h.svc.Login(c.Request.Context(), goGuard.LoginRequest{
		Email:       req.Email,
		Password:    password,
		DeviceToken: req.DeviceToken,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLoginResponse(res))
}

type completeLoginRequest struct {
	ChallengeID string `json:"challenge_id" binding:"required"`
	Code        string `json:"code" binding:"required"`
	Method      string `json:"method" binding:"required"`
	TrustDevice bool   `json:"trust_device"`
}

func (h *handler) completeLogin(c *gin.Context) {
	var req completeLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.svc.CompleteLogin(c.Request.Context(), goGuard.SecondFactorRequest{
		ChallengeID: req.ChallengeID,
		Code:        req.Code,
		Method:      goGuard.SecondFactorMethod(req.Method),
		TrustDevice: req.TrustDevice,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLoginResponse(res))
}

func (h *handler) rateLimit(c *gin.Context) {
	status, err := h.svc.CheckRateLimit(c.Request.Context(), c.Query("email"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type otpRequest struct {
	Email   string `json:"email" binding:"required"`
	Purpose string `json:"purpose"`
}

func purposeOrLogin(p string) goGuard.OTPPurpose {
	if p == "" {
		return goGuard.OTPPurposeLogin
	}
	return goGuard.OTPPurpose(p)
}

func (h *handler) requestOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.svc.RequestOTP(c.Request.Context(), req.Email, purposeOrLogin(req.Purpose)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type verifyOTPRequest struct {
	Email   string `json:"email" binding:"required"`
	Code    string `json:"code" binding:"required"`
	Purpose string `json:"purpose"`
}

func (h *handler) verifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.svc.VerifyOTP(c.Request.Context(), req.Email, req.Code, purposeOrLogin(req.Purpose)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type resetRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h *handler) requestPasswordReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.svc.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type confirmResetRequest struct {
	Email                string `json:"email" binding:"required"`
	Code                 string `json:"code" binding:"required"`
	NewPassword          string `json:"new_password"`
	EncryptedNewPassword string `json:"encrypted_new_password"`
}

func (h *handler) confirmPasswordReset(c *gin.Context) {
	var req confirmResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	password, ok := h.secret(req.NewPassword, req.EncryptedNewPassword)
	if !ok {
		badRequest(c, "encrypted_new_password could not be decrypted")
		return
	}
	if err := h.svc.ConfirmPasswordReset(c.Request.Context(), req.Email, req.Code, password); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) publicKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"public_key": h.svc.PublicKey()})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func (h *handler) changePassword(c *gin.Context) {
	claims, _ := middleware.Session(c)
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.svc.ChangePassword(c.Request.Context(), claims.Email, req.OldPassword, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) beginTOTPSetup(c *gin.Context) {
	claims, _ := middleware.Session(c)
	setup, err := h.svc.BeginTOTPSetup(c.Request.Context(), claims.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, setup)
}

type totpCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *handler) confirmTOTPSetup(c *gin.Context) {
	claims, _ := middleware.Session(c)
	var req totpCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	codes, err := h.svc.ConfirmTOTPSetup(c.Request.Context(), claims.Email, req.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backup_codes": codes})
}

func (h *handler) regenerateBackupCodes(c *gin.Context) {
	claims, _ := middleware.Session(c)
	var req totpCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	codes, err := h.svc.RegenerateBackupCodes(c.Request.Context(), claims.Email, req.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backup_codes": codes})
}

func (h *handler) disableTOTP(c *gin.Context) {
	claims, _ := middleware.Session(c)
	if err := h.svc.DisableTOTP(c.Request.Context(), claims.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) revokeDevice(c *gin.Context) {
	claims, _ := middleware.Session(c)
	if err := h.svc.RevokeTrustedDevice(c.Request.Context(), claims.Email, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) revokeAllDevices(c *gin.Context) {
	claims, _ := middleware.Session(c)
	n, err := h.svc.RevokeAllTrustedDevices(c.Request.Context(), claims.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

type unlockRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h *handler) unlockAccount(c *gin.Context) {
	claims, _ := middleware.Session(c)
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.svc.UnlockAccount(c.Request.Context(), claims, req.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
