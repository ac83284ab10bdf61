package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"lime/internal/ai"
)

func TestErrorKind(t *testing.T) {
	Convey("ErrorKind 按包装链识别类别", t, func() {
		So(ErrorKind(nil), ShouldEqual, "")
		So(ErrorKind(fmt.Errorf("%w: %q", ErrInvalidIdentifier, "x")), ShouldEqual, KindInvalidIdentifier)
		So(ErrorKind(ErrSessionNotFound), ShouldEqual, KindNotFound)
		So(ErrorKind(ErrForbidden), ShouldEqual, KindForbidden)
		So(ErrorKind(fmt.Errorf("%w: %w", ErrUpstreamUnavailable, errors.New("dial tcp"))), ShouldEqual, KindUpstreamUnavailable)
		So(ErrorKind(ErrUpstreamMalformed), ShouldEqual, KindUpstreamMalformed)
		So(ErrorKind(fmt.Errorf("%w: append history: %w", ErrPersistence, errors.New("redis down"))), ShouldEqual, KindPersistence)
		So(ErrorKind(context.Canceled), ShouldEqual, KindCanceled)
		So(ErrorKind(errors.New("boom")), ShouldEqual, KindInternal)
	})
}

func TestUpstreamError(t *testing.T) {
	Convey("推理后端错误", t, func() {
		cause := fmt.Errorf("%w: dial tcp 127.0.0.1:1: connection refused", ai.ErrUnavailable)
		err := upstreamUnavailable(cause)

		So(errors.Is(err, ErrUpstreamUnavailable), ShouldBeTrue)
		So(errors.Is(err, ai.ErrUnavailable), ShouldBeTrue)
		So(ErrorKind(err), ShouldEqual, KindUpstreamUnavailable)
		So(strings.Count(err.Error(), "inference backend unavailable"), ShouldEqual, 1)
	})
}

func TestPublicMessage(t *testing.T) {
	Convey("对外消息", t, func() {
		So(PublicMessage(KindUpstreamUnavailable), ShouldEqual, "Inference backend unavailable")
		So(PublicMessage(KindNotFound), ShouldEqual, "Session not found")
		So(PublicMessage("unknown"), ShouldEqual, PublicMessage(KindInternal))
	})
}
