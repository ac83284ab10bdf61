package jwt

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestJWT(t *testing.T) {
	Convey("签发与校验 Access Token", t, func() {
		j := NewJWT("test-secret", time.Minute)

		token, err := j.GenerateToken("u-1", "alice", true)
		So(err, ShouldBeNil)

		claims, err := j.ValidateToken(token)
		So(err, ShouldBeNil)
		So(claims.Username(), ShouldEqual, "alice")
		So(claims.UserID, ShouldEqual, "u-1")
		So(claims.Superuser, ShouldBeTrue)

		Convey("密钥不同则无效", func() {
			_, err := NewJWT("other", time.Minute).ValidateToken(token)
			So(err, ShouldEqual, ErrInvalidToken)
		})

		Convey("过期 Token", func() {
			expired := NewJWT("test-secret", -time.Minute)
			tok, err := expired.GenerateToken("u-1", "alice", false)
			So(err, ShouldBeNil)
			_, err = j.ValidateToken(tok)
			So(err, ShouldEqual, ErrExpiredToken)
		})

		Convey("乱码", func() {
			_, err := j.ValidateToken("not-a-token")
			So(err, ShouldEqual, ErrInvalidToken)
		})
	})

	Convey("Refresh Token 随机且为 64 位十六进制", t, func() {
		a, b := GenerateRefreshToken(), GenerateRefreshToken()
		So(len(a), ShouldEqual, 64)
		So(a, ShouldNotEqual, b)
	})
}
