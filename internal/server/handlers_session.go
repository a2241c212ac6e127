package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/auth"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/views"
	"github.com/gin-gonic/gin"
)

type signInRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type signedInResponsePayload struct {
	AccessToken string                 `json:"access_token"`
	TokenType   string                 `json:"token_type"`
	ExpiresIn   int64                  `json:"expires_in"`
	Session     sessionResponsePayload `json:"session"`
}

type sessionResponsePayload struct {
	Profile     model.Profile `json:"profile"`
	State       views.State   `json:"state"`
	Transitions []views.View  `json:"transitions"`
	Reachable   []views.View  `json:"reachable"`
}

type profileRequestPayload struct {
	FullName string `json:"full_name"`
}

type navigateRequestPayload struct {
	View             string `json:"view"`
	OperatorID       string `json:"operator_id"`
	Target           string `json:"target"`
	TargetOperatorID string `json:"target_operator_id"`
}

type stateResponsePayload struct {
	State       views.State  `json:"state"`
	Transitions []views.View `json:"transitions"`
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request signInRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	signedIn, err := h.identity.SignIn(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondSignedIn(c, http.StatusOK, signedIn)
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request signUpRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	signedIn, err := h.identity.SignUp(c.Request.Context(), request.Email, request.Password, request.FullName)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondSignedIn(c, http.StatusCreated, signedIn)
}

func (h *httpHandler) respondSignedIn(c *gin.Context, status int, signedIn auth.SignedIn) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    signedIn.Token.Token,
		Path:     "/",
		Expires:  signedIn.Token.ExpiresAt,
		HttpOnly: true,
		Secure:   c.Request.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	c.JSON(status, signedInResponsePayload{
		AccessToken: signedIn.Token.Token,
		TokenType:   "Bearer",
		ExpiresIn:   signedIn.Token.ExpiresIn,
		Session:     describeSession(signedIn.Principal),
	})
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.identity.SignOut(c.Request.Context(), claims); err != nil {
		h.respondError(c, err)
		return
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	signedOut := views.Initial(views.Session{Status: views.SessionAbsent})
	c.JSON(http.StatusOK, stateResponsePayload{State: signedOut, Transitions: signedOut.Transitions()})
}

func (h *httpHandler) handleSession(c *gin.Context) {
	principal, _ := principalFrom(c)
	c.JSON(http.StatusOK, describeSession(principal))
}

func (h *httpHandler) handleUpdateOwnProfile(c *gin.Context) {
	principal, _ := principalFrom(c)
	var request profileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	profile, err := h.users.UpdateOwnProfile(c.Request.Context(), principal.Profile, request.FullName)
	if err != nil {
		h.respondError(c, err)
		return
	}
	principal.Profile = profile
	c.JSON(http.StatusOK, describeSession(principal))
}

func (h *httpHandler) handleNavigate(c *gin.Context) {
	principal, _ := principalFrom(c)
	var request navigateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	current, err := restoreState(principal, request.View, request.OperatorID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	target, err := views.ParseView(request.Target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	next, err := current.Navigate(target, request.TargetOperatorID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stateResponsePayload{State: next, Transitions: next.Transitions()})
}

func (h *httpHandler) handleBack(c *gin.Context) {
	principal, _ := principalFrom(c)
	var request navigateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	current, err := restoreState(principal, request.View, request.OperatorID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	previous, err := current.Back()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stateResponsePayload{State: previous, Transitions: previous.Transitions()})
}

func restoreState(principal auth.Principal, rawView, operatorID string) (views.State, error) {
	session := principal.ViewSession()
	if strings.TrimSpace(rawView) == "" {
		return views.Initial(session), nil
	}
	view, err := views.ParseView(rawView)
	if err != nil {
		return views.State{}, err
	}
	return views.Restore(session, view, operatorID)
}

func describeSession(principal auth.Principal) sessionResponsePayload {
	state := views.Initial(principal.ViewSession())
	reachable := views.Reachable(principal.Profile.Role)
	if reachable == nil {
		reachable = []views.View{}
	}
	transitions := state.Transitions()
	if transitions == nil {
		transitions = []views.View{}
	}
	return sessionResponsePayload{
		Profile:     principal.Profile,
		State:       state,
		Transitions: transitions,
		Reachable:   reachable,
	}
}
