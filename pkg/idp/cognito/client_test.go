package cognito

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idpgate/pkg/idp"
)

// fakeAPI records the last input of each call and returns canned outputs
type fakeAPI struct {
	err error

	signUp        *cip.SignUpInput
	initiate      *cip.InitiateAuthInput
	adminInitiate *cip.AdminInitiateAuthInput
	respond       *cip.RespondToAuthChallengeInput
	forgot        *cip.ForgotPasswordInput
	confirm       *cip.ConfirmForgotPasswordInput
	adminCreate   *cip.AdminCreateUserInput

	initiateOut *cip.InitiateAuthOutput
	respondOut  *cip.RespondToAuthChallengeOutput
}

func (f *fakeAPI) SignUp(ctx context.Context, in *cip.SignUpInput, _ ...func(*cip.Options)) (*cip.SignUpOutput, error) {
	f.signUp = in
	if f.err != nil {
		return nil, f.err
	}
	return &cip.SignUpOutput{
		UserSub:       aws.String("sub-1"),
		UserConfirmed: false,
		CodeDeliveryDetails: &types.CodeDeliveryDetailsType{
			AttributeName:  aws.String("email"),
			DeliveryMedium: types.DeliveryMediumTypeEmail,
			Destination:    aws.String("a***@x.com"),
		},
	}, nil
}

func (f *fakeAPI) InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, _ ...func(*cip.Options)) (*cip.InitiateAuthOutput, error) {
	f.initiate = in
	if f.err != nil {
		return nil, f.err
	}
	return f.initiateOut, nil
}

func (f *fakeAPI) AdminInitiateAuth(ctx context.Context, in *cip.AdminInitiateAuthInput, _ ...func(*cip.Options)) (*cip.AdminInitiateAuthOutput, error) {
	f.adminInitiate = in
	if f.err != nil {
		return nil, f.err
	}
	return &cip.AdminInitiateAuthOutput{
		ChallengeName:       types.ChallengeNameTypeNewPasswordRequired,
		ChallengeParameters: map[string]string{"requiredAttributes": "[]"},
		Session:             aws.String("admin-session"),
	}, nil
}

func (f *fakeAPI) RespondToAuthChallenge(ctx context.Context, in *cip.RespondToAuthChallengeInput, _ ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error) {
	f.respond = in
	if f.err != nil {
		return nil, f.err
	}
	return f.respondOut, nil
}

func (f *fakeAPI) ForgotPassword(ctx context.Context, in *cip.ForgotPasswordInput, _ ...func(*cip.Options)) (*cip.ForgotPasswordOutput, error) {
	f.forgot = in
	if f.err != nil {
		return nil, f.err
	}
	return &cip.ForgotPasswordOutput{}, nil
}

func (f *fakeAPI) ConfirmForgotPassword(ctx context.Context, in *cip.ConfirmForgotPasswordInput, _ ...func(*cip.Options)) (*cip.ConfirmForgotPasswordOutput, error) {
	f.confirm = in
	if f.err != nil {
		return nil, f.err
	}
	return &cip.ConfirmForgotPasswordOutput{}, nil
}

func (f *fakeAPI) AdminCreateUser(ctx context.Context, in *cip.AdminCreateUserInput, _ ...func(*cip.Options)) (*cip.AdminCreateUserOutput, error) {
	f.adminCreate = in
	if f.err != nil {
		return nil, f.err
	}
	return &cip.AdminCreateUserOutput{
		User: &types.UserType{
			Username:   in.Username,
			UserStatus: types.UserStatusTypeForceChangePassword,
			Enabled:    true,
		},
	}, nil
}

func newTestClient(t *testing.T, secret string) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	c, err := New(api, Options{UserPoolID: "us-east-1_pool", ClientID: "client-1", ClientSecret: secret})
	require.NoError(t, err)
	return c, api
}

func TestNew(t *testing.T) {
	_, err := New(nil, Options{UserPoolID: "p", ClientID: "c"})
	assert.Error(t, err)

	_, err = New(&fakeAPI{}, Options{ClientID: "c"})
	assert.Error(t, err)

	_, err = New(&fakeAPI{}, Options{UserPoolID: "p"})
	assert.Error(t, err)

	c, err := NewFromConfig(aws.Config{Region: "us-east-1"}, Options{UserPoolID: "p", ClientID: "c", Endpoint: "http://localhost:9229"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestSecretHash(t *testing.T) {
	// Base64(HMAC-SHA256("secret", "aliceclient-1"))
	h1 := SecretHash("secret", "alice", "client-1")
	h2 := SecretHash("secret", "alice", "client-1")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, SecretHash("secret", "bob", "client-1"))
	assert.NotEqual(t, h1, SecretHash("other", "alice", "client-1"))
	assert.Len(t, h1, 44)
}

func TestRegister(t *testing.T) {
	c, api := newTestClient(t, "s3cr3t")

	out, err := c.Register(context.Background(), "alice", "Pw1!", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", out.UserSub)
	assert.False(t, out.UserConfirmed)
	require.NotNil(t, out.Delivery)
	assert.Equal(t, "EMAIL", out.Delivery.Medium)

	require.NotNil(t, api.signUp)
	assert.Equal(t, "client-1", aws.ToString(api.signUp.ClientId))
	assert.Equal(t, "alice", aws.ToString(api.signUp.Username))
	assert.Equal(t, SecretHash("s3cr3t", "alice", "client-1"), aws.ToString(api.signUp.SecretHash))
	require.Len(t, api.signUp.UserAttributes, 1)
	assert.Equal(t, "email", aws.ToString(api.signUp.UserAttributes[0].Name))
	assert.Equal(t, "a@x.com", aws.ToString(api.signUp.UserAttributes[0].Value))
}

func TestAuthenticate(t *testing.T) {
	t.Run("tokens", func(t *testing.T) {
		c, api := newTestClient(t, "")
		api.initiateOut = &cip.InitiateAuthOutput{
			AuthenticationResult: &types.AuthenticationResultType{
				AccessToken:  aws.String("at"),
				IdToken:      aws.String("it"),
				RefreshToken: aws.String("rt"),
				TokenType:    aws.String("Bearer"),
				ExpiresIn:    3600,
			},
		}

		resp, err := c.Authenticate(context.Background(), "alice", "Pw1!")
		require.NoError(t, err)
		require.True(t, resp.HasTokens())
		assert.Equal(t, "at", resp.Tokens.AccessToken)
		assert.Equal(t, "it", resp.Tokens.IDToken)
		assert.Equal(t, int32(3600), resp.Tokens.ExpiresIn)

		assert.Equal(t, types.AuthFlowTypeUserPasswordAuth, api.initiate.AuthFlow)
		assert.Equal(t, "alice", api.initiate.AuthParameters["USERNAME"])
		assert.Equal(t, "Pw1!", api.initiate.AuthParameters["PASSWORD"])
		assert.NotContains(t, api.initiate.AuthParameters, "SECRET_HASH")
	})

	t.Run("challenge", func(t *testing.T) {
		c, api := newTestClient(t, "s3cr3t")
		api.initiateOut = &cip.InitiateAuthOutput{
			ChallengeName:       types.ChallengeNameTypeNewPasswordRequired,
			ChallengeParameters: map[string]string{"userAttributes": `{"email":"a@x.com"}`},
			Session:             aws.String("AYABeXYZ+/=="),
		}

		resp, err := c.Authenticate(context.Background(), "alice", "Pw1!")
		require.NoError(t, err)
		assert.False(t, resp.HasTokens())
		assert.Equal(t, idp.ChallengeNewPasswordRequired, resp.ChallengeName)
		assert.Equal(t, "AYABeXYZ+/==", resp.Session)
		assert.Equal(t, SecretHash("s3cr3t", "alice", "client-1"), api.initiate.AuthParameters["SECRET_HASH"])
	})
}

func TestAdminInitiateAuth(t *testing.T) {
	c, api := newTestClient(t, "")

	resp, err := c.AdminInitiateAuth(context.Background(), "frank", "Temp1!")
	require.NoError(t, err)
	assert.Equal(t, "admin-session", resp.Session)

	assert.Equal(t, types.AuthFlowTypeAdminUserPasswordAuth, api.adminInitiate.AuthFlow)
	assert.Equal(t, "us-east-1_pool", aws.ToString(api.adminInitiate.UserPoolId))
	assert.Equal(t, "client-1", aws.ToString(api.adminInitiate.ClientId))
}

func TestRespondToChallenge(t *testing.T) {
	c, api := newTestClient(t, "s3cr3t")
	api.respondOut = &cip.RespondToAuthChallengeOutput{
		AuthenticationResult: &types.AuthenticationResultType{AccessToken: aws.String("at")},
	}

	session := "AYABe\x00opaque+/==\n"
	resp, err := c.RespondToChallenge(context.Background(), "alice", session, idp.ChallengeNewPasswordRequired, map[string]string{
		idp.ResponseNewPassword: "Pw2!",
		"userAttributes.name":   "Alice",
	})
	require.NoError(t, err)
	assert.True(t, resp.HasTokens())

	require.NotNil(t, api.respond)
	assert.Equal(t, []byte(session), []byte(aws.ToString(api.respond.Session)))
	assert.Equal(t, types.ChallengeNameTypeNewPasswordRequired, api.respond.ChallengeName)
	assert.Equal(t, "Pw2!", api.respond.ChallengeResponses["NEW_PASSWORD"])
	assert.Equal(t, "alice", api.respond.ChallengeResponses["USERNAME"])
	assert.Equal(t, "Alice", api.respond.ChallengeResponses["userAttributes.name"])
	assert.Equal(t, SecretHash("s3cr3t", "alice", "client-1"), api.respond.ChallengeResponses["SECRET_HASH"])
}

func TestPasswordReset(t *testing.T) {
	c, api := newTestClient(t, "s3cr3t")

	_, err := c.BeginPasswordReset(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", aws.ToString(api.forgot.Username))
	assert.NotNil(t, api.forgot.SecretHash)

	err = c.ConfirmPasswordReset(context.Background(), "alice", "123456", "New1!")
	require.NoError(t, err)
	assert.Equal(t, "123456", aws.ToString(api.confirm.ConfirmationCode))
	assert.Equal(t, "New1!", aws.ToString(api.confirm.Password))
	assert.NotNil(t, api.confirm.SecretHash)
}

func TestAdminCreateUser(t *testing.T) {
	c, api := newTestClient(t, "")

	created, err := c.AdminCreateUser(context.Background(), "frank", "f@x.com", "Tmp-Pass-1")
	require.NoError(t, err)
	assert.Equal(t, "frank", created.Username)
	assert.Equal(t, "FORCE_CHANGE_PASSWORD", created.Status)
	assert.True(t, created.Enabled)

	require.NotNil(t, api.adminCreate)
	assert.Equal(t, types.MessageActionTypeSuppress, api.adminCreate.MessageAction)
	assert.Equal(t, "Tmp-Pass-1", aws.ToString(api.adminCreate.TemporaryPassword))
	assert.Equal(t, "us-east-1_pool", aws.ToString(api.adminCreate.UserPoolId))
}

func TestProviderErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantTimeout bool
	}{
		{
			name:     "api error",
			err:      &smithy.GenericAPIError{Code: "UsernameExistsException", Message: "User already exists"},
			wantCode: "UsernameExistsException",
		},
		{
			name:        "deadline",
			err:         context.DeadlineExceeded,
			wantTimeout: true,
		},
		{
			name:        "wrapped cancel",
			err:         &smithy.OperationError{ServiceID: "Cognito Identity Provider", OperationName: "SignUp", Err: context.Canceled},
			wantTimeout: true,
		},
		{
			name: "transport",
			err:  errors.New("dial tcp: connection refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, api := newTestClient(t, "")
			api.err = tt.err

			_, err := c.Register(context.Background(), "alice", "Pw1!", "")
			require.Error(t, err)

			pe, ok := idp.AsProviderError(err)
			require.True(t, ok)
			assert.Equal(t, "SignUp", pe.Op)
			assert.Equal(t, tt.wantCode, pe.Code)
			assert.Equal(t, tt.wantTimeout, pe.Timeout)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
