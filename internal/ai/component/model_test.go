package component

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"lime/internal/config"
)

func TestNewChatModel(t *testing.T) {
	Convey("NewChatModel", t, func() {
		ctx := context.Background()

		Convey("openai 兼容接口", func() {
			cm, err := NewChatModel(ctx, &config.AIConfig{
				Provider: "openai",
				Model:    "gpt-4o-mini",
				APIKey:   "sk-test",
				BaseURL:  "http://127.0.0.1:1/v1",
			})
			So(err, ShouldBeNil)
			So(cm, ShouldNotBeNil)
		})

		Convey("缺少模型名", func() {
			_, err := NewChatModel(ctx, &config.AIConfig{Provider: "openai"})
			So(err, ShouldNotBeNil)
		})

		Convey("不支持的 provider", func() {
			_, err := NewChatModel(ctx, &config.AIConfig{Provider: "ollama", Model: "llama3"})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSampling(t *testing.T) {
	Convey("未配置的参数不下发", t, func() {
		p := newSampling(&config.AIOptionsConfig{})
		So(p.temperature, ShouldBeNil)
		So(p.topP, ShouldBeNil)
		So(p.maxTokens, ShouldBeNil)

		p = newSampling(&config.AIOptionsConfig{Temperature: 0.5, TopP: 0.9, MaxTokens: 256})
		So(*p.temperature, ShouldEqual, float32(0.5))
		So(*p.topP, ShouldEqual, float32(0.9))
		So(*p.maxTokens, ShouldEqual, 256)
	})
}
