package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"gopkg.in/yaml.v3"
)

func TestLoadDefaults(t *testing.T) {
	Convey("Given no config file", t, func() {
		cfg, err := Load("")

		Convey("It matches Defaults exactly", func() {
			So(err, ShouldBeNil)
			So(cfg, ShouldResemble, Defaults())
		})
	})
}

func TestLoadOverridesFromYAML(t *testing.T) {
	Convey("Given a YAML fixture overriding a subset of fields", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "mapd.yaml")

		fixture := map[string]any{
			"map_path":      "testdata/s1.map",
			"n_agents_max":  10,
			"auto_dispatch": false,
		}
		data, err := yaml.Marshal(fixture)
		So(err, ShouldBeNil)
		So(os.WriteFile(path, data, 0o644), ShouldBeNil)

		Convey("Load merges overrides on top of defaults", func() {
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.MapPath, ShouldEqual, "testdata/s1.map")
			So(cfg.NAgentsMax, ShouldEqual, 10)
			So(cfg.AutoDispatch, ShouldBeFalse)
			// Untouched fields keep their defaults.
			So(cfg.TPos, ShouldEqual, time.Second)
			So(cfg.NPeersMax, ShouldEqual, 1000)
		})
	})
}
