package logger_test

import (
	"context"
	"testing"

	"github.com/dross/clantally/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestLogger(t *testing.T) {
	convey.Convey("Given an initialized logger", t, func() {
		err := logger.Init("text")
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When getting the global logger", func() {
			l := logger.Get()

			convey.Convey("Then it should not be nil and should log without panicking", func() {
				convey.So(l, convey.ShouldNotBeNil)
				ctx := context.Background()
				l.Info(ctx, "info line", logger.String("k", "v"))
				l.Debug(ctx, "debug line", logger.Int("n", 1))
				l.Warn(ctx, "warn line", logger.Bool("flag", true))
				l.Error(ctx, "error line", logger.Error(nil))
			})
		})

		convey.Convey("When creating a named logger", func() {
			l := logger.Named("refresh")

			convey.Convey("Then it should return a distinct working logger", func() {
				convey.So(l, convey.ShouldNotBeNil)
				l.Info(context.Background(), "named line")
			})
		})

		convey.Convey("When setting log levels from strings", func() {
			convey.So(logger.SetLevelString("debug"), convey.ShouldBeNil)
			convey.So(logger.SetLevelString("WARN"), convey.ShouldBeNil)
			convey.So(logger.SetLevelString(""), convey.ShouldBeNil)
			convey.So(logger.SetLevelString("loud"), convey.ShouldNotBeNil)
		})

		convey.Convey("When initializing with json format", func() {
			convey.So(logger.Init("json"), convey.ShouldBeNil)
			logger.Get().Info(context.Background(), "json line")
		})
	})
}
