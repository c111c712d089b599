package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/BearBump/FreightDesk/internal/models"
)

const secret = "test-secret"

func TestParseToken_RoundTrip(t *testing.T) {
	tok, err := IssueToken(secret, models.Actor{Name: "dana", Role: "OPS"}, time.Minute)
	require.NoError(t, err)

	a, err := ParseAuthorization("Bearer "+tok, secret)
	require.NoError(t, err)
	require.Equal(t, "dana", a.Name)
	require.Equal(t, "ops", a.Role)
}

func TestParseToken_Rejects(t *testing.T) {
	tok, err := IssueToken(secret, models.Actor{Name: "dana"}, time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(tok, "other-secret")
	require.ErrorIs(t, err, ErrUnauthenticated)

	expired, err := IssueToken(secret, models.Actor{Name: "dana"}, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, secret)
	require.ErrorIs(t, err, ErrUnauthenticated)

	noName, err := IssueToken(secret, models.Actor{Role: "ops"}, time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(noName, secret)
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = ParseAuthorization("Basic abc", secret)
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = ParseToken(tok, "")
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	var seen models.Actor
	h := Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/shipments", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), `"code":"unauthenticated"`)

	tok, err := IssueToken(secret, models.Actor{Name: "dana", Role: "ops"}, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/shipments", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "dana", seen.Name)
}

func TestMiddleware_Disabled(t *testing.T) {
	var seen models.Actor
	h := Middleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromContext(r.Context())
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "anonymous", seen.String())
}

func TestUnaryInterceptor(t *testing.T) {
	icpt := NewUnaryInterceptor(secret, "/grpc.health.v1.Health/Check")
	handler := func(ctx context.Context, req any) (any, error) {
		return ActorFromContext(ctx).String(), nil
	}

	_, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/freightdesk.v1.DeskService/GetShipment"}, handler)
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	out, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	require.NoError(t, err)
	require.Equal(t, "anonymous", out)

	tok, err := IssueToken(secret, models.Actor{Name: "dana"}, time.Minute)
	require.NoError(t, err)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+tok))
	out, err = icpt(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/freightdesk.v1.DeskService/GetShipment"}, handler)
	require.NoError(t, err)
	require.Equal(t, "dana", out)
}
