package session

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// RegisterAuthRoutes mounts the auth controller on the given router.
func RegisterAuthRoutes[T any](app router.Router[T], controller *AuthController) {
	app.Get(controller.Routes.Landing, controller.LandingShow)

	app.Get(controller.Routes.Login, controller.LoginShow)
	app.Post(controller.Routes.Login, controller.LoginPost)

	app.Get(controller.Routes.Logout, controller.LogOut)

	app.Get(controller.Routes.Register, controller.RegistrationShow)
	app.Post(controller.Routes.Register, controller.RegistrationCreate)

	app.Get(fmt.Sprintf("%s/:provider", controller.Routes.OAuth), controller.OAuthStart)
	app.Get(controller.Routes.Callback, controller.Callback)
}

type AuthControllerRoutes struct {
	Landing   string
	Login     string
	Logout    string
	Register  string
	OAuth     string
	Callback  string
	Dashboard string
}

type AuthControllerViews struct {
	Landing  string
	Login    string
	Register string
}

type AuthController struct {
	Debug    bool
	Logger   Logger
	Gateway  *Gateway
	Store    *Store
	Profiles *ProfileService
	Guard    *RouteGuard
	Routes   *AuthControllerRoutes
	Views    *AuthControllerViews
}

func NewAuthController(gateway *Gateway, store *Store, profiles *ProfileService, guard *RouteGuard) *AuthController {
	return &AuthController{
		Logger:   defLogger{},
		Gateway:  gateway,
		Store:    store,
		Profiles: profiles,
		Guard:    guard,
		Routes: &AuthControllerRoutes{
			Landing:   "/",
			Login:     "/login",
			Logout:    "/logout",
			Register:  "/register",
			OAuth:     "/auth/oauth",
			Callback:  CallbackPath,
			Dashboard: "/dashboard",
		},
		Views: &AuthControllerViews{
			Landing:  "landing",
			Login:    "login",
			Register: "register",
		},
	}
}

func (a *AuthController) LandingShow(ctx router.Context) error {
	snap := a.Store.Snapshot()
	if snap.Authenticated() {
		return ctx.Redirect(a.Routes.Dashboard, http.StatusSeeOther)
	}
	return ctx.Render(a.Views.Landing, router.ViewContext{})
}

func (a *AuthController) LoginShow(ctx router.Context) error {
	return ctx.Render(a.Views.Login, router.ViewContext{
		"errors":     nil,
		"record":     nil,
		"auth_error": ctx.Query("error", ""),
	})
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	errs := map[string]any{}
	payload := new(LoginPayload)

	if err := ctx.Bind(payload); err != nil {
		errs["form"] = "Failed to parse form"
		a.Logger.Error("login parse payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Login, router.ViewContext{
			"errors": errs,
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("login validate payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Render(a.Views.Login, router.ViewContext{
			"record":     payload,
			"validation": errs,
		})
	}

	if err := a.Gateway.SignIn(ctx.Context(), payload.Identifier, payload.Password); err != nil {
		msg := "Unable to sign in, try again later"
		if errors.Is(err, ErrInvalidCredentials) {
			msg = "Invalid email or password"
		}
		a.Logger.Error("sign-in for %s: %v", payload.Identifier, err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  msg,
			"system_message": "Sign in failed",
		}).Render(a.Views.Login, router.ViewContext{
			"record": payload,
			"errors": []string{msg},
		})
	}

	redirect := a.Guard.GetRedirect(ctx, a.Routes.Dashboard)
	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Signed in",
	}).Redirect(redirect, fiber.StatusSeeOther)
}

func (a *AuthController) OAuthStart(ctx router.Context) error {
	provider := ctx.Param("provider", "")
	if provider != ProviderGoogle && provider != ProviderGitHub {
		return flash.WithError(ctx, router.ViewContext{
			"error_message": "Unknown sign-in provider",
		}).Redirect(a.Routes.Login, fiber.StatusSeeOther)
	}

	url, err := a.Gateway.SignInWithOAuth(provider)
	if err != nil {
		a.Logger.Error("oauth start %s: %v", provider, err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message": "Unable to start sign in, try again later",
		}).Redirect(a.Routes.Login, fiber.StatusSeeOther)
	}

	return ctx.Redirect(url, http.StatusTemporaryRedirect)
}

func (a *AuthController) RegistrationShow(ctx router.Context) error {
	return ctx.Render(a.Views.Register, router.ViewContext{
		"errors": map[string]string{},
		"record": RegisterPayload{},
	})
}

func (a *AuthController) RegistrationCreate(ctx router.Context) error {
	errs := map[string]any{}
	payload := new(RegisterPayload)

	if err := ctx.Bind(payload); err != nil {
		errs["form"] = "Failed to parse form"
		a.Logger.Error("register parse payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Register, router.ViewContext{
			"errors": errs,
			"record": payload,
		})
	}

	if a.Debug {
		fmt.Println("================")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("================")
	}

	if err := a.Gateway.Register(ctx.Context(), *payload); err != nil {
		if errors.Is(err, ErrAlreadyRegistered) {
			return flash.WithError(ctx, router.ViewContext{
				"error_message":  "This email is already registered, sign in instead",
				"system_message": "Account exists",
			}).Render(a.Views.Register, router.ViewContext{
				"record":       payload,
				"errors":       []string{"email already registered"},
				"login_route":  a.Routes.Login,
				"show_sign_in": true,
			})
		}

		a.Logger.Error("registration for %s: %v", payload.Email, err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error creating account",
		}).Render(a.Views.Register, router.ViewContext{
			"record": payload,
			"errors": []string{err.Error()},
		})
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Account created, check your email to confirm your address",
	}).Redirect(a.Routes.Login, fiber.StatusSeeOther)
}

func (a *AuthController) LogOut(ctx router.Context) error {
	a.Gateway.SignOut(ctx.Context())
	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Signed out",
	}).Redirect(a.Routes.Landing, fiber.StatusSeeOther)
}

// Callback completes an OAuth handshake. The provider already redirected
// the browser here; the session is read back from the identity service,
// the profile is ensured, and the user lands on the dashboard. Profile
// failures are not fatal: the session is valid without one.
func (a *AuthController) Callback(ctx router.Context) error {
	sess, err := a.Gateway.Session(ctx.Context())
	if err != nil {
		a.Logger.Error("oauth callback session read: %v", err)
		return ctx.Redirect(a.Routes.Login+"?error=auth_failed", http.StatusSeeOther)
	}

	if sess == nil || sess.User == nil {
		return ctx.Redirect(a.Routes.Login, http.StatusSeeOther)
	}

	if profile := a.Profiles.Ensure(ctx.Context(), sess.User); profile == nil {
		a.Logger.Warn("oauth callback continuing without profile for %s", sess.User.ID)
	}

	redirect := a.Guard.GetRedirect(ctx, a.Routes.Dashboard)
	return ctx.Redirect(redirect, http.StatusSeeOther)
}
