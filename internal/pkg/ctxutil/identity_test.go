package ctxutil

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestIdentity(t *testing.T) {
	Convey("context 中的身份", t, func() {
		Convey("未注入时不存在", func() {
			_, ok := GetIdentity(context.Background())
			So(ok, ShouldBeFalse)
		})

		Convey("注入后可取回", func() {
			ctx := WithIdentity(context.Background(), Identity{UserID: "u-1", Username: "alice"})
			ident, ok := GetIdentity(ctx)
			So(ok, ShouldBeTrue)
			So(ident.Username, ShouldEqual, "alice")

			uid, ok := GetUserID(ctx)
			So(ok, ShouldBeTrue)
			So(uid, ShouldEqual, "u-1")
		})

		Convey("空 UserID 视为未认证", func() {
			ctx := WithIdentity(context.Background(), Identity{Username: "ghost"})
			_, ok := GetIdentity(ctx)
			So(ok, ShouldBeFalse)
		})
	})
}
