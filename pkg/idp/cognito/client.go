// Package cognito implements idp.Client on top of an AWS Cognito user pool.
package cognito

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"

	"github.com/platinummonkey/idpgate/pkg/idp"
)

// API is the subset of the Cognito user pool API used by Client
type API interface {
	SignUp(ctx context.Context, params *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	AdminInitiateAuth(ctx context.Context, params *cip.AdminInitiateAuthInput, optFns ...func(*cip.Options)) (*cip.AdminInitiateAuthOutput, error)
	RespondToAuthChallenge(ctx context.Context, params *cip.RespondToAuthChallengeInput, optFns ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error)
	ForgotPassword(ctx context.Context, params *cip.ForgotPasswordInput, optFns ...func(*cip.Options)) (*cip.ForgotPasswordOutput, error)
	ConfirmForgotPassword(ctx context.Context, params *cip.ConfirmForgotPasswordInput, optFns ...func(*cip.Options)) (*cip.ConfirmForgotPasswordOutput, error)
	AdminCreateUser(ctx context.Context, params *cip.AdminCreateUserInput, optFns ...func(*cip.Options)) (*cip.AdminCreateUserOutput, error)
}

// Options identifies the user pool and app client
type Options struct {
	UserPoolID   string
	ClientID     string
	ClientSecret string // optional; enables SECRET_HASH
	Endpoint     string // optional endpoint override, e.g. a local emulator
}

// Client is an idp.Client backed by Cognito. It is read-only after
// construction and safe for concurrent use.
type Client struct {
	api  API
	opts Options
}

var _ idp.Client = (*Client)(nil)

// New creates a client over an existing API implementation
func New(api API, opts Options) (*Client, error) {
	if api == nil {
		return nil, fmt.Errorf("cognito API is required")
	}
	if opts.UserPoolID == "" {
		return nil, fmt.Errorf("user pool ID is required")
	}
	if opts.ClientID == "" {
		return nil, fmt.Errorf("app client ID is required")
	}
	return &Client{api: api, opts: opts}, nil
}

// NewFromConfig creates a client using the SDK client built from cfg
func NewFromConfig(cfg aws.Config, opts Options) (*Client, error) {
	api := cip.NewFromConfig(cfg, func(o *cip.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return New(api, opts)
}

// Register implements idp.Client
func (c *Client) Register(ctx context.Context, username, password, email string) (*idp.RegistrationOutcome, error) {
	input := &cip.SignUpInput{
		ClientId:   aws.String(c.opts.ClientID),
		Username:   aws.String(username),
		Password:   aws.String(password),
		SecretHash: c.secretHash(username),
	}
	if email != "" {
		input.UserAttributes = []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
		}
	}

	out, err := c.api.SignUp(ctx, input)
	if err != nil {
		return nil, providerError("SignUp", err)
	}

	return &idp.RegistrationOutcome{
		UserSub:       aws.ToString(out.UserSub),
		UserConfirmed: out.UserConfirmed,
		Delivery:      codeDelivery(out.CodeDeliveryDetails),
	}, nil
}

// Authenticate implements idp.Client with USER_PASSWORD_AUTH
func (c *Client) Authenticate(ctx context.Context, username, password string) (*idp.AuthResponse, error) {
	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(c.opts.ClientID),
		AuthParameters: c.authParameters(username, password),
	})
	if err != nil {
		return nil, providerError("InitiateAuth", err)
	}
	return authResponse(out.AuthenticationResult, out.ChallengeName, out.ChallengeParameters, out.Session), nil
}

// AdminInitiateAuth implements idp.Client with ADMIN_USER_PASSWORD_AUTH
func (c *Client) AdminInitiateAuth(ctx context.Context, username, password string) (*idp.AuthResponse, error) {
	out, err := c.api.AdminInitiateAuth(ctx, &cip.AdminInitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeAdminUserPasswordAuth,
		ClientId:       aws.String(c.opts.ClientID),
		UserPoolId:     aws.String(c.opts.UserPoolID),
		AuthParameters: c.authParameters(username, password),
	})
	if err != nil {
		return nil, providerError("AdminInitiateAuth", err)
	}
	return authResponse(out.AuthenticationResult, out.ChallengeName, out.ChallengeParameters, out.Session), nil
}

// RespondToChallenge implements idp.Client. The session token is forwarded
// exactly as received.
func (c *Client) RespondToChallenge(ctx context.Context, username, sessionToken, challengeName string, responses map[string]string) (*idp.AuthResponse, error) {
	challengeResponses := make(map[string]string, len(responses)+2)
	for k, v := range responses {
		challengeResponses[k] = v
	}
	challengeResponses[idp.ResponseUsername] = username
	if hash := c.secretHash(username); hash != nil {
		challengeResponses["SECRET_HASH"] = *hash
	}

	out, err := c.api.RespondToAuthChallenge(ctx, &cip.RespondToAuthChallengeInput{
		ChallengeName:      types.ChallengeNameType(challengeName),
		ClientId:           aws.String(c.opts.ClientID),
		ChallengeResponses: challengeResponses,
		Session:            aws.String(sessionToken),
	})
	if err != nil {
		return nil, providerError("RespondToAuthChallenge", err)
	}
	return authResponse(out.AuthenticationResult, out.ChallengeName, out.ChallengeParameters, out.Session), nil
}

// BeginPasswordReset implements idp.Client
func (c *Client) BeginPasswordReset(ctx context.Context, username string) (*idp.CodeDelivery, error) {
	out, err := c.api.ForgotPassword(ctx, &cip.ForgotPasswordInput{
		ClientId:   aws.String(c.opts.ClientID),
		Username:   aws.String(username),
		SecretHash: c.secretHash(username),
	})
	if err != nil {
		return nil, providerError("ForgotPassword", err)
	}
	return codeDelivery(out.CodeDeliveryDetails), nil
}

// ConfirmPasswordReset implements idp.Client
func (c *Client) ConfirmPasswordReset(ctx context.Context, username, code, newPassword string) error {
	_, err := c.api.ConfirmForgotPassword(ctx, &cip.ConfirmForgotPasswordInput{
		ClientId:         aws.String(c.opts.ClientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
		Password:         aws.String(newPassword),
		SecretHash:       c.secretHash(username),
	})
	if err != nil {
		return providerError("ConfirmForgotPassword", err)
	}
	return nil
}

// AdminCreateUser implements idp.Client. Cognito's invitation message is
// always suppressed so the temporary password is never emailed.
func (c *Client) AdminCreateUser(ctx context.Context, username, email, temporaryPassword string) (*idp.CreatedUser, error) {
	input := &cip.AdminCreateUserInput{
		UserPoolId:        aws.String(c.opts.UserPoolID),
		Username:          aws.String(username),
		TemporaryPassword: aws.String(temporaryPassword),
		MessageAction:     types.MessageActionTypeSuppress,
	}
	if email != "" {
		input.UserAttributes = []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
		}
	}

	out, err := c.api.AdminCreateUser(ctx, input)
	if err != nil {
		return nil, providerError("AdminCreateUser", err)
	}

	created := &idp.CreatedUser{Username: username}
	if out.User != nil {
		if name := aws.ToString(out.User.Username); name != "" {
			created.Username = name
		}
		created.Status = string(out.User.UserStatus)
		created.Enabled = out.User.Enabled
	}
	return created, nil
}

func (c *Client) authParameters(username, password string) map[string]string {
	params := map[string]string{
		"USERNAME": username,
		"PASSWORD": password,
	}
	if hash := c.secretHash(username); hash != nil {
		params["SECRET_HASH"] = *hash
	}
	return params
}

// secretHash returns Base64(HMAC-SHA256(secret, username+clientID)), or nil
// when the app client has no secret.
func (c *Client) secretHash(username string) *string {
	if c.opts.ClientSecret == "" {
		return nil
	}
	return aws.String(SecretHash(c.opts.ClientSecret, username, c.opts.ClientID))
}

// SecretHash computes the Cognito SECRET_HASH for username
func SecretHash(clientSecret, username, clientID string) string {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func authResponse(result *types.AuthenticationResultType, name types.ChallengeNameType, params map[string]string, session *string) *idp.AuthResponse {
	resp := &idp.AuthResponse{
		ChallengeName:       string(name),
		ChallengeParameters: params,
		Session:             aws.ToString(session),
	}
	if result != nil {
		resp.Tokens = &idp.TokenSet{
			AccessToken:  aws.ToString(result.AccessToken),
			IDToken:      aws.ToString(result.IdToken),
			RefreshToken: aws.ToString(result.RefreshToken),
			TokenType:    aws.ToString(result.TokenType),
			ExpiresIn:    result.ExpiresIn,
		}
	}
	return resp
}

func codeDelivery(d *types.CodeDeliveryDetailsType) *idp.CodeDelivery {
	if d == nil {
		return nil
	}
	return &idp.CodeDelivery{
		Medium:        string(d.DeliveryMedium),
		AttributeName: aws.ToString(d.AttributeName),
		Destination:   aws.ToString(d.Destination),
	}
}

// providerError converts an SDK error into an *idp.ProviderError
func providerError(op string, err error) error {
	pe := &idp.ProviderError{Op: op, Message: err.Error(), Err: err}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		pe.Code = apiErr.ErrorCode()
		pe.Message = apiErr.ErrorMessage()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		pe.Timeout = true
	}

	return pe
}
