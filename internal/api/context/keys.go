package context

import (
	"context"

	"github.com/julienschmidt/httprouter"

	"orgdesk/internal/engine/access"
	"orgdesk/internal/platform/auth"
)

type Key string

const (
	Claims Key = "claims"
	Actor  Key = "actor"
	Params Key = "params"
)

func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(Claims).(*auth.Claims)
	return claims, ok && claims != nil
}

// ActorFrom returns the user context attached by the user context middleware.
func ActorFrom(ctx context.Context) (*access.UserContext, bool) {
	uc, ok := ctx.Value(Actor).(*access.UserContext)
	return uc, ok && uc != nil
}

func Param(ctx context.Context, name string) string {
	ps, _ := ctx.Value(Params).(httprouter.Params)
	return ps.ByName(name)
}
