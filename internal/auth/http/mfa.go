package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lockplane/authd/internal/auth/service"
	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/lockplane/authd/pkg/httpx"
	"github.com/lockplane/authd/pkg/slogx"
)

// MFAHandler handles TOTP enrollment and challenge lookup. Completing a
// challenge happens on the authorize endpoint, not here.
type MFAHandler struct {
	MFAService       *service.MFAService
	AuthorizeService *service.AuthorizeService
}

// HandleEnroll handles POST /v1/mfa/enroll
//
//	@Summary		Enroll in TOTP MFA
//	@Description	Generates a TOTP secret for the authenticated user and returns it with an otpauth:// URL for QR rendering.
//	@Description	MFA is not active until the first code is confirmed via the verify endpoint.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.TOTPEnrollResponse	"TOTP secret and provisioning URL"
//	@Failure		400	{object}	authsdk.ErrorResponse		"MFA already enabled"
//	@Failure		401	{object}	authsdk.ErrorResponse		"Invalid or missing access token"
//	@Failure		500	{object}	authsdk.ErrorResponse		"Internal server error"
//	@Router			/v1/mfa/enroll [post]
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	enrollment, err := h.MFAService.EnrollTOTP(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrMFAAlreadyEnabled) {
			log.Warn("MFA already enabled", "user_id", userID)
			httpx.WriteJSON(w, http.StatusBadRequest, authsdk.ErrorResponse{
				Error:            "mfa_already_enabled",
				ErrorDescription: "MFA is already enabled for this user",
			})
			return
		}
		log.Error("failed to enroll TOTP", "user_id", userID, "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.TOTPEnrollResponse{
		Secret:  enrollment.Secret,
		QRCode:  enrollment.QRCode,
		Issuer:  enrollment.Issuer,
		Account: enrollment.Account,
	})
}

// HandleVerify handles POST /v1/mfa/verify
//
//	@Summary		Verify TOTP code and enable MFA
//	@Description	Confirms the first code from the authenticator app and switches MFA on for the user.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.TOTPVerifyRequest	true	"TOTP code"
//	@Success		200		{object}	map[string]string			"Success message"
//	@Failure		400		{object}	authsdk.ErrorResponse		"Invalid TOTP code or request"
//	@Failure		401		{object}	authsdk.ErrorResponse		"Invalid or missing access token"
//	@Failure		500		{object}	authsdk.ErrorResponse		"Internal server error"
//	@Router			/v1/mfa/verify [post]
func (h *MFAHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	var req authsdk.TOTPVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, authsdk.ErrorResponse{
			Error:            "invalid_request",
			ErrorDescription: "Invalid JSON body",
		})
		return
	}

	if err := h.MFAService.VerifyTOTP(ctx, userID, req.Code); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTOTPCode):
			log.Warn("invalid TOTP code", "user_id", userID)
			httpx.WriteJSON(w, http.StatusBadRequest, authsdk.ErrorResponse{
				Error:            "invalid_code",
				ErrorDescription: "Invalid TOTP code",
			})
		case errors.Is(err, service.ErrMFANotEnrolled):
			httpx.WriteJSON(w, http.StatusBadRequest, authsdk.ErrorResponse{
				Error:            "mfa_not_enrolled",
				ErrorDescription: "Call the enroll endpoint first",
			})
		case errors.Is(err, service.ErrMFAAlreadyEnabled):
			httpx.WriteJSON(w, http.StatusBadRequest, authsdk.ErrorResponse{
				Error:            "mfa_already_enabled",
				ErrorDescription: "MFA is already enabled for this user",
			})
		default:
			log.Error("failed to verify TOTP", "user_id", userID, "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "MFA enabled",
	})
}

// HandleChallenge handles POST /v1/mfa/challenge
//
//	@Summary		Describe a pending MFA challenge
//	@Description	Returns the second-factor methods available for an mfa_token issued by the authorize endpoint.
//	@Description	Unknown and expired tokens are indistinguishable. No authentication is required; the mfa_token is the credential.
//	@Tags			MFA
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.MFAChallengeRequest		true	"mfa_token from the 409 response"
//	@Success		200		{object}	authsdk.MFAChallengeResponse	"available methods"
//	@Failure		400		{object}	authsdk.ErrorResponse			"error, error_description"
//	@Router			/v1/mfa/challenge [post]
func (h *MFAHandler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req authsdk.MFAChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, authsdk.ErrorResponse{
			Error:            "invalid_request",
			ErrorDescription: "Invalid JSON body",
		})
		return
	}

	challenge, err := h.AuthorizeService.DescribeChallenge(ctx, req.MFAToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidGrant):
			authsdk.ErrInvalidGrant.
				WithDescription("mfa_token is unknown or expired").
				WriteError(w)
		case errors.Is(err, service.ErrInvalidRequest):
			authsdk.ErrInvalidRequest.
				WithDescription("mfa_token is required").
				WriteError(w)
		default:
			log.Error("failed to describe MFA challenge", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.MFAChallengeResponse{
		MFARequired: challenge.MFARequired,
		MFAToken:    challenge.MFAToken,
		Methods:     challenge.Methods,
	})
}

// HandleRemove handles DELETE /v1/mfa/totp
//
//	@Summary		Remove TOTP MFA
//	@Description	Disables MFA for the user after a final proof of possession.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.TOTPRemoveRequest	true	"TOTP code for verification"
//	@Success		200		{object}	map[string]string			"Success message"
//	@Failure		400		{object}	authsdk.ErrorResponse		"Invalid TOTP code or request"
//	@Failure		401		{object}	authsdk.ErrorResponse		"Invalid or missing access token"
//	@Failure		500		{object}	authsdk.ErrorResponse		"Internal server error"
//	@Router			/v1/mfa/totp [delete]
func (h *MFAHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	var req authsdk.TOTPRemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, authsdk.ErrorResponse{
			Error:            "invalid_request",
			ErrorDescription: "Invalid JSON body",
		})
		return
	}

	if err := h.MFAService.RemoveMFA(ctx, userID, req.Code); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTOTPCode):
			log.Warn("invalid TOTP code", "user_id", userID)
			httpx.WriteJSON(w, http.StatusBadRequest, authsdk.ErrorResponse{
				Error:            "invalid_code",
				ErrorDescription: "Invalid TOTP code",
			})
		case errors.Is(err, service.ErrMFANotEnabled):
			httpx.WriteJSON(w, http.StatusBadRequest, authsdk.ErrorResponse{
				Error:            "mfa_not_enabled",
				ErrorDescription: "MFA is not enabled for this user",
			})
		default:
			log.Error("failed to remove MFA", "user_id", userID, "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "MFA removed",
	})
}
