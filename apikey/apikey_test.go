// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apikey

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stockparfait/datalink/apierr"
	"github.com/stockparfait/datalink/config"
	"github.com/stockparfait/testutil"

	. "github.com/smartystreets/goconvey/convey"
)

const defaultFileContents = "keyfordefaultfile"

func TestAPIKey(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvVar, "")
	os.Unsetenv(EnvVar)
	defer config.SetDefault(nil)

	keyFile := filepath.Join(home, "testkeyfile")

	reset := func() {
		os.Unsetenv(EnvVar)
		os.RemoveAll(filepath.Join(home, ".nasdaq"))
		os.Remove(keyFile)
		config.Default().APIKey = ""
	}

	Convey("DefaultFile is under the home directory", t, func() {
		So(DefaultFile(), ShouldEqual, filepath.Join(home, ".nasdaq", "data_link_apikey"))
	})

	Convey("Resolve", t, func() {
		reset()

		Convey("uses the environment variable", func() {
			os.Setenv(EnvVar, "setinenv")
			key, err := Resolve("")
			So(err, ShouldBeNil)
			So(key, ShouldEqual, "setinenv")
			So(config.Default().APIKey, ShouldEqual, "setinenv")
		})

		Convey("prefers the environment variable over the key file", func() {
			So(Save("keyforfilenot", keyFile), ShouldBeNil)
			config.Default().APIKey = ""
			os.Setenv(EnvVar, "setinenvprecedence")
			key, err := Resolve(keyFile)
			So(err, ShouldBeNil)
			So(key, ShouldEqual, "setinenvprecedence")
			So(config.Default().APIKey, ShouldEqual, "setinenvprecedence")
		})

		Convey("reads an explicit key file", func() {
			So(Save("keyforfile", keyFile), ShouldBeNil)
			config.Default().APIKey = ""
			key, err := Resolve(keyFile)
			So(err, ShouldBeNil)
			So(key, ShouldEqual, "keyforfile")
			So(config.Default().APIKey, ShouldEqual, "keyforfile")
		})

		Convey("reads the default key file", func() {
			So(Save(defaultFileContents, ""), ShouldBeNil)
			config.Default().APIKey = ""
			key, err := Resolve("")
			So(err, ShouldBeNil)
			So(key, ShouldEqual, defaultFileContents)
			So(config.Default().APIKey, ShouldEqual, defaultFileContents)
		})

		Convey("fails on an empty environment variable", func() {
			os.Setenv(EnvVar, "")
			_, err := Resolve("")
			So(err, ShouldNotBeNil)
			So(apierr.IsKind(err, apierr.KindCredential), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "cannot be empty")
		})

		Convey("fails on an empty key file", func() {
			So(Save("", ""), ShouldBeNil)
			_, err := Resolve("")
			So(err, ShouldNotBeNil)
			So(apierr.IsKind(err, apierr.KindCredential), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "is empty")
		})

		Convey("returns no key when nothing is set", func() {
			key, err := Resolve("")
			So(err, ShouldBeNil)
			So(key, ShouldEqual, "")
			So(config.Default().APIKey, ShouldEqual, "")
		})
	})

	Convey("Key file contents are trimmed", t, func() {
		reset()
		cases := map[string]string{
			"newline":         defaultFileContents + "\n",
			"leading newline": "\n" + defaultFileContents + "\n",
			"spaces":          " " + defaultFileContents + " ",
			"tabs":            "\t" + defaultFileContents + "\t",
			"multi newline":   defaultFileContents + "\n\nanotherkey\n",
			"blank lines":     "\n  \n\t\n" + defaultFileContents + "\nanotherkey",
		}
		for name, given := range cases {
			So(testutil.WriteFile(keyFile, given), ShouldBeNil)
			key, err := Read(keyFile)
			So(err, ShouldBeNil)
			So(key+" ("+name+")", ShouldEqual, defaultFileContents+" ("+name+")")
		}
	})

	Convey("Read fails on a missing file", t, func() {
		reset()
		_, err := Read(filepath.Join(home, "nope"))
		So(apierr.IsKind(err, apierr.KindCredential), ShouldBeTrue)
	})

	Convey("Save", t, func() {
		reset()

		Convey("creates the file with owner-only permissions", func() {
			So(Save("savedkey", ""), ShouldBeNil)
			info, err := os.Stat(DefaultFile())
			So(err, ShouldBeNil)
			So(info.Mode().Perm(), ShouldEqual, os.FileMode(0600))
			dirInfo, err := os.Stat(filepath.Dir(DefaultFile()))
			So(err, ShouldBeNil)
			So(dirInfo.Mode().Perm(), ShouldEqual, os.FileMode(0700))
			So(config.Default().APIKey, ShouldEqual, "savedkey")
		})

		Convey("writes the raw key, replacing the old contents", func() {
			So(Save("a much longer key", keyFile), ShouldBeNil)
			So(Save("short", keyFile), ShouldBeNil)
			data, err := os.ReadFile(keyFile)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "short")
		})
	})
}
