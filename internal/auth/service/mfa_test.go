package service

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/lockplane/authd/internal/auth/store"
)

func TestMFAEnrollAndVerify(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	svc := &MFAService{Store: env.Store, Issuer: testIssuer}

	user := seedUser(t, env, "carol")

	enroll, err := svc.EnrollTOTP(ctx, user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, enroll.Secret)
	require.Contains(t, enroll.QRCode, "otpauth://totp/")
	require.Equal(t, testIssuer, enroll.Issuer)
	require.Equal(t, "carol", enroll.Account)

	// Enrollment alone must not switch MFA on; the user could have lost
	// the secret before ever scanning it.
	stored, err := env.Store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Nil(t, stored.MFAEnabled)

	code, err := totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.VerifyTOTP(ctx, user.ID, code))

	stored, err = env.Store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.MFAEnabled)
}

func TestMFAVerifyRejectsWrongCode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	svc := &MFAService{Store: env.Store, Issuer: testIssuer}

	user := seedUser(t, env, "carol")
	_, err := svc.EnrollTOTP(ctx, user.ID)
	require.NoError(t, err)

	require.ErrorIs(t, svc.VerifyTOTP(ctx, user.ID, "000000"), ErrInvalidTOTPCode)

	stored, err := env.Store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Nil(t, stored.MFAEnabled)
}

func TestMFAEnrollmentStateMachine(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	svc := &MFAService{Store: env.Store, Issuer: testIssuer}

	user := seedUser(t, env, "carol")

	t.Run("verify before enroll", func(t *testing.T) {
		require.ErrorIs(t, svc.VerifyTOTP(ctx, user.ID, "123456"), ErrMFANotEnrolled)
	})

	t.Run("remove before enable", func(t *testing.T) {
		require.ErrorIs(t, svc.RemoveMFA(ctx, user.ID, "123456"), ErrMFANotEnabled)
	})

	enroll, err := svc.EnrollTOTP(ctx, user.ID)
	require.NoError(t, err)

	t.Run("re-enroll while pending replaces the secret", func(t *testing.T) {
		second, err := svc.EnrollTOTP(ctx, user.ID)
		require.NoError(t, err)
		require.NotEqual(t, enroll.Secret, second.Secret)
		enroll = second
	})

	code, err := totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.VerifyTOTP(ctx, user.ID, code))

	t.Run("enroll after enable", func(t *testing.T) {
		_, err := svc.EnrollTOTP(ctx, user.ID)
		require.ErrorIs(t, err, ErrMFAAlreadyEnabled)
	})

	t.Run("verify after enable", func(t *testing.T) {
		code, err := totp.GenerateCode(enroll.Secret, time.Now())
		require.NoError(t, err)
		require.ErrorIs(t, svc.VerifyTOTP(ctx, user.ID, code), ErrMFAAlreadyEnabled)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.EnrollTOTP(ctx, "nobody")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestMFARemove(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	svc := &MFAService{Store: env.Store, Issuer: testIssuer}

	user := seedUser(t, env, "carol")
	enroll, err := svc.EnrollTOTP(ctx, user.ID)
	require.NoError(t, err)

	code, err := totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.VerifyTOTP(ctx, user.ID, code))

	// Removal demands a final valid code so a hijacked session cannot
	// quietly strip the second factor.
	require.ErrorIs(t, svc.RemoveMFA(ctx, user.ID, "000000"), ErrInvalidTOTPCode)

	code, err = totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.RemoveMFA(ctx, user.ID, code))

	stored, err := env.Store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Nil(t, stored.MFAEnabled)
	require.Nil(t, stored.TOTPSecret)
}
