package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dross/clantally/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8480")
				convey.So(cfg.PageSize, convey.ShouldEqual, 250)
				convey.So(cfg.MaxPages, convey.ShouldEqual, 40)
				convey.So(cfg.FanoutConcurrency, convey.ShouldEqual, 3)
				convey.So(cfg.RetryCount, convey.ShouldEqual, 3)
				convey.So(cfg.MinRefreshIntervalS, convey.ShouldEqual, 300)
				convey.So(cfg.MaxJobAttempts, convey.ShouldEqual, 8)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("CLANTALLY_ADDR", ":9999")
			_ = os.Setenv("CLANTALLY_PAGE_SIZE", "100")
			_ = os.Setenv("CLANTALLY_FANOUT_CONCURRENCY", "5")
			_ = os.Setenv("CLANTALLY_CLAN_ID", "424242")
			_ = os.Setenv("CLANTALLY_STORE_IN_MEMORY", "true")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9999")
				convey.So(cfg.PageSize, convey.ShouldEqual, 100)
				convey.So(cfg.FanoutConcurrency, convey.ShouldEqual, 5)
				convey.So(cfg.ClanID, convey.ShouldEqual, "424242")
				convey.So(cfg.StoreInMemory, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			yaml := "addr: \":7070\"\npage_size: 50\nadmin_token: secret\n"
			convey.So(os.WriteFile(path, []byte(yaml), 0o600), convey.ShouldBeNil)
			_ = os.Setenv("CLANTALLY_CONFIG", path)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values should override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.PageSize, convey.ShouldEqual, 50)
				convey.So(cfg.AdminToken, convey.ShouldEqual, "secret")
			})

			convey.Convey("And env should override the file", func() {
				_ = os.Setenv("CLANTALLY_ADDR", ":6060")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":6060")
			})
		})

		convey.Convey("When loading config with invalid values", func() {
			_ = os.Setenv("CLANTALLY_PAGE_SIZE", "0")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should fail validation", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, key := range []string{
		"CLANTALLY_CONFIG",
		"CLANTALLY_ADDR",
		"CLANTALLY_PAGE_SIZE",
		"CLANTALLY_FANOUT_CONCURRENCY",
		"CLANTALLY_CLAN_ID",
		"CLANTALLY_STORE_IN_MEMORY",
	} {
		_ = os.Unsetenv(key)
	}
}
