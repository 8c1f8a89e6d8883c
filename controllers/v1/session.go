package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nishantd01/sheetwatch/service"
)

type SessionController struct {
	session *service.SessionController
}

func NewSessionController(session *service.SessionController) *SessionController {
	return &SessionController{session: session}
}

// GET /api/v1/session
func (ctl *SessionController) GetSession(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, ctl.session.Snapshot())
}

// GET /api/v1/auth/url
func (ctl *SessionController) GetAuthURL(ctx *gin.Context) {
	authURL, err := ctl.session.BeginLogin()
	if err != nil {
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"authUrl": authURL})
}

// GET /api/v1/auth/callback
//
// The provider redirects here with either a code or an error. Both are fed
// into the session's token callback; the resulting state is returned.
func (ctl *SessionController) AuthCallback(ctx *gin.Context) {
	ctl.session.HandleAuthCallback(
		ctx.Request.Context(),
		ctx.Query("state"),
		ctx.Query("code"),
		ctx.Query("error"),
		ctx.Query("error_description"),
	)
	ctx.JSON(http.StatusOK, ctl.session.Snapshot())
}

// POST /api/v1/install
func (ctl *SessionController) Install(ctx *gin.Context) {
	if err := ctl.session.Install(ctx.Request.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrNotReady) {
			status = http.StatusConflict
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, ctl.session.Snapshot())
}

// POST /api/v1/logout
func (ctl *SessionController) Logout(ctx *gin.Context) {
	ctl.session.Logout(ctx.Request.Context())
	ctx.JSON(http.StatusOK, ctl.session.Snapshot())
}
