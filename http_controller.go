package passwordless

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// credentialIDSeparator joins the nonce and the credential id hint in the
// challenge response body.
const credentialIDSeparator = "///"

// RegisterPasskeyRoutes mounts the full passwordless surface on app.
func RegisterPasskeyRoutes[T any](app router.Router[T], opts ...ControllerOption) {

	controller := NewPasskeyController(opts...)

	app.Get(controller.Routes.Home, controller.Home).
		SetName("passkey.home")

	app.Get(controller.Routes.UserExists, controller.UserExists).
		SetName("passkey.userexists")

	app.Get(controller.Routes.Challenge, controller.Challenge).
		SetName("passkey.challenge")

	app.Post(controller.Routes.Register, controller.RegisterPost).
		SetName("passkey.register")

	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("passkey.login")

	app.Get(controller.Routes.SignOut, controller.SignOut).
		SetName("passkey.signout")

	app.Get(controller.Routes.Delete, controller.DeleteAccount).
		SetName("passkey.delete")

	app.Get(controller.Routes.Success, controller.Success).
		SetName("passkey.success")

	app.Get(controller.Routes.CurrentUser, controller.CurrentUser).
		SetName("passkey.getuser")
}

type ControllerRoutes struct {
	Home        string
	UserExists  string
	Challenge   string
	Register    string
	Login       string
	SignOut     string
	Delete      string
	Success     string
	CurrentUser string
	Error       string
}

type ControllerViews struct {
	Success string
}

type PasskeyController struct {
	Debug  bool
	Logger Logger
	Auth   *Coordinator
	Config Config
	Routes *ControllerRoutes
	Views  *ControllerViews
}

type ControllerOption func(*PasskeyController) *PasskeyController

func NewPasskeyController(opts ...ControllerOption) *PasskeyController {
	c := &PasskeyController{
		Logger: defLogger{},
		Config: SimpleConfig{},
		Routes: &ControllerRoutes{
			Home:        "/",
			UserExists:  "/auth/userexists/:username",
			Challenge:   "/auth/challenge/:username",
			Register:    "/auth/validate",
			Login:       "/auth/login/:username",
			SignOut:     "/auth/signout",
			Delete:      "/auth/delete",
			Success:     "/success",
			CurrentUser: "/getuser",
			Error:       "/error",
		},
		Views: &ControllerViews{},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auth == nil {
		panic("Missing Coordinator in passkey controller...")
	}

	return c
}

func (a *PasskeyController) WithLogger(logger Logger) *PasskeyController {
	a.Logger = logger
	return a
}

// Home redirects signed-in clients to the success surface and defers to the
// next handler (static index page) otherwise.
func (a *PasskeyController) Home(ctx router.Context) error {
	if token := a.sessionToken(ctx); token != "" {
		return ctx.Redirect(a.Routes.Success, fiber.StatusMovedPermanently)
	}
	return ctx.Next()
}

// UserExists is the pre-registration existence probe.
func (a *PasskeyController) UserExists(ctx router.Context) error {
	username := ctx.Param("username", "")

	exists, err := a.Auth.UserExists(ctx.Context(), username)
	if err != nil {
		a.Logger.Error("Error checking user %s: %s", username, err)
		return ctx.Status(fiber.StatusInternalServerError).SendString("Error - Lookup failed")
	}

	if exists {
		return ctx.SendString("true")
	}
	return ctx.SendString("false")
}

// Challenge issues a ceremony challenge for the username. With the
// includeCredentialId query the response carries the stored credential id
// hint for the login ceremony: nonce///credentialId.
func (a *PasskeyController) Challenge(ctx router.Context) error {
	username := ctx.Param("username", "")
	includeCredentialID := ctx.Query("includeCredentialId", "") != ""
	origin := a.expectedOrigin(ctx)

	issue, err := a.Auth.IssueChallenge(ctx.Context(), username, origin, includeCredentialID)
	if err != nil {
		switch {
		case stderrors.Is(err, ErrUsernameRequired):
			return ctx.Status(fiber.StatusBadRequest).SendString("Error - Username required")
		case stderrors.Is(err, ErrAlreadyRegistered):
			return ctx.Status(fiber.StatusBadRequest).SendString("Error - Username already exists, use authentication")
		case stderrors.Is(err, ErrCredentialNotFound):
			return ctx.Status(fiber.StatusNotFound).SendString("Error - Credential not found")
		}
		a.Logger.Error("Error issuing challenge for %s: %s", username, err)
		return ctx.Status(fiber.StatusInternalServerError).SendString("Error - Challenge issuance failed")
	}

	if issue.CredentialID != "" {
		return ctx.SendString(issue.Challenge + credentialIDSeparator + issue.CredentialID)
	}

	return ctx.SendString(issue.Challenge)
}

// RegistrationPayload carries the username claimed by a registration
// response. The full response body is handed to the verifier untouched.
type RegistrationPayload struct {
	Username string `json:"username"`
}

// Validate will run validation rules
func (r RegistrationPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Username,
			validation.Required,
			validation.Length(1, 100),
		),
	)
}

// RegisterPost completes a registration ceremony and sets the session
// cookie.
func (a *PasskeyController) RegisterPost(ctx router.Context) error {
	body := ctx.Body()

	payload := RegistrationPayload{}
	if err := json.Unmarshal(body, &payload); err != nil {
		a.Logger.Error("Error parsing registration payload: %s", err)
		return ctx.Status(fiber.StatusBadRequest).SendString("Error - Invalid registration payload")
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("Error validating registration payload: %s", err)
		return ctx.Status(fiber.StatusBadRequest).SendString("Error - Username required")
	}

	if a.Debug {
		fmt.Println("======= PASSKEY REGISTER ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("===============================")
	}

	token, err := a.Auth.Register(ctx.Context(), payload.Username, body)
	if err != nil {
		return a.ceremonyError(ctx, err)
	}

	a.setSessionCookie(ctx, token)
	return ctx.SendString("Registration successful")
}

// LoginPost completes an authentication ceremony and sets the session
// cookie.
func (a *PasskeyController) LoginPost(ctx router.Context) error {
	username := ctx.Param("username", "")
	if username == "" {
		return ctx.Status(fiber.StatusBadRequest).SendString("Error - Username required")
	}

	token, err := a.Auth.Login(ctx.Context(), username, ctx.Body())
	if err != nil {
		return a.ceremonyError(ctx, err)
	}

	a.setSessionCookie(ctx, token)
	return ctx.SendString("Authentication successful")
}

// SignOut clears the session cookie. No store interaction: tokens are
// stateless and simply stop being presented.
func (a *PasskeyController) SignOut(ctx router.Context) error {
	a.clearSessionCookie(ctx)
	return ctx.Redirect(a.Routes.Home, fiber.StatusMovedPermanently)
}

// DeleteAccount removes the identity behind the presented session and clears
// the cookie.
func (a *PasskeyController) DeleteAccount(ctx router.Context) error {
	token := a.sessionToken(ctx)

	if _, err := a.Auth.DeleteAccount(ctx.Context(), token); err != nil {
		if stderrors.Is(err, ErrInvalidSession) {
			return a.unauthorized(ctx, err)
		}
		a.Logger.Error("Error deleting account: %s", err)
		return ctx.Status(fiber.StatusInternalServerError).SendString("Error - Delete failed")
	}

	a.clearSessionCookie(ctx)
	return ctx.Redirect(a.Routes.Home, fiber.StatusMovedPermanently)
}

// Success gates the protected content: a valid session AND a still-existing
// credential record are required. With a configured view it renders it,
// otherwise it defers to the next handler (static success page).
func (a *PasskeyController) Success(ctx router.Context) error {
	claims, err := a.Auth.Session(ctx.Context(), a.sessionToken(ctx))
	if err != nil {
		return a.unauthorized(ctx, err)
	}

	if a.Views.Success != "" {
		return ctx.Render(a.Views.Success, router.ViewContext{
			"username": claims.GetUsername(),
		})
	}

	return ctx.Next()
}

// CurrentUser returns the username behind the presented session. It applies
// the same credential-record re-check as Success.
func (a *PasskeyController) CurrentUser(ctx router.Context) error {
	username, err := a.Auth.Username(ctx.Context(), a.sessionToken(ctx))
	if err != nil {
		return a.unauthorized(ctx, err)
	}
	return ctx.SendString(username)
}

func (a *PasskeyController) sessionToken(ctx router.Context) string {
	return ctx.Cookies(a.Config.GetCookieName(), "")
}

// expectedOrigin builds the ceremony origin from the declared request host.
// Only the configured scheme is accepted; HTTPS-only by default.
func (a *PasskeyController) expectedOrigin(ctx router.Context) string {
	return a.Config.GetOriginScheme() + ctx.Header("Host")
}

// ceremonyError maps registration/login failures to the wire contract: 404
// for a missing challenge, redirect to the failure surface with 403 for a
// verifier rejection, redirect with 500 for signer or store failures. Raw
// error details never reach the client.
func (a *PasskeyController) ceremonyError(ctx router.Context, err error) error {
	switch {
	case stderrors.Is(err, ErrUsernameRequired):
		return ctx.Status(fiber.StatusBadRequest).SendString("Error - Username required")
	case stderrors.Is(err, ErrChallengeNotFound):
		return ctx.Status(fiber.StatusNotFound).SendString("Error - Challenge not found")
	case IsNotFound(err):
		return ctx.Status(fiber.StatusNotFound).SendString("Error - Credential not found")
	case stderrors.Is(err, ErrVerificationFailed):
		return ctx.Redirect(a.Routes.Error, fiber.StatusForbidden)
	}
	return ctx.Redirect(a.Routes.Error, fiber.StatusInternalServerError)
}

func (a *PasskeyController) unauthorized(ctx router.Context, err error) error {
	a.Logger.Info("Session rejected at %s: %s", ctx.OriginalURL(), err)
	return ctx.Status(fiber.StatusUnauthorized).SendString("Unauthorized")
}

// setSessionCookie stores the token as a whole-site cookie whose expiry
// matches the token's validity window.
func (a *PasskeyController) setSessionCookie(ctx router.Context, token string) {
	duration := time.Duration(a.Config.GetTokenExpiration()) * time.Hour
	ctx.Cookie(&router.Cookie{
		Name:     a.Config.GetCookieName(),
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// clearSessionCookie overwrites the cookie with an already-expired date.
func (a *PasskeyController) clearSessionCookie(ctx router.Context) {
	ctx.Cookie(&router.Cookie{
		Name:     a.Config.GetCookieName(),
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}
