package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/xerr"
)

// HeaderCaller 开发模式下直接信任的调用方 header
const HeaderCaller = "X-Caller-Address"

// Resolver 从请求里解析出已验证的调用方地址
// 没有凭证时返回 ("", nil)，由路由决定是否必须登录
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// Claims subject 即钱包地址
type Claims struct {
	jwt.RegisteredClaims
}

type JWTResolver struct {
	secret []byte
	issuer string
}

func NewJWTResolver(secret, issuer string) (*JWTResolver, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is empty")
	}
	return &JWTResolver{secret: []byte(secret), issuer: issuer}, nil
}

func (j *JWTResolver) Resolve(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", nil
	}
	raw, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || raw == "" {
		return "", xerr.New(xerr.Unauthenticated, "invalid authorization header")
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return j.secret, nil
	}, opts...)
	if err != nil {
		return "", xerr.Wrap(err, xerr.Unauthenticated, "invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", xerr.New(xerr.Unauthenticated, "invalid token")
	}
	sub := domain.NormalizeOwner(claims.Subject)
	if !domain.ValidAddress(sub) {
		return "", xerr.New(xerr.Unauthenticated, "token subject is not an address")
	}
	return sub, nil
}

// Issue 签发 HS256 token，运维脚本和测试使用
func (j *JWTResolver) Issue(address string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   domain.NormalizeOwner(address),
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// HeaderResolver 仅限本地调试：信任 X-Caller-Address
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (string, error) {
	addr := domain.NormalizeOwner(r.Header.Get(HeaderCaller))
	if addr == "" {
		return "", nil
	}
	if !domain.ValidAddress(addr) {
		return "", xerr.New(xerr.Unauthenticated, "invalid caller address")
	}
	return addr, nil
}
